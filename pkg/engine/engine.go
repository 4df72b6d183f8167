package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/weftlabs/weft/pkg/ai"
	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/render"
	"github.com/weftlabs/weft/pkg/schema"
	"github.com/weftlabs/weft/pkg/tool"
)

// Engine executes recipes. Steps whose dependencies are satisfied run as
// soon as a slot is free; mutually-independent steps run concurrently up
// to the recipe's max_concurrency (default serial).
type Engine struct {
	Registry  *tool.Registry
	Writer    output.FileWriter
	Generator *ai.Generator
	Executor  tool.CommandExecutor
	Logger    *slog.Logger

	// Root anchors relative paths in template sources, context globs, and
	// child recipe references.
	Root string
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Inputs override recipe vars.
	Inputs map[string]string
	// DryRun executes steps but applies no file operations.
	DryRun bool
}

// New creates an engine with the builtin tool set, a real command
// executor, and an in-memory file writer. Callers swap in a disk writer
// for real runs. logger may be nil.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	reg := tool.NewRegistry()
	tool.RegisterBuiltins(reg)
	return &Engine{
		Registry:  reg,
		Writer:    output.NewMemoryWriter(),
		Generator: ai.NewGenerator(logger),
		Executor:  &tool.ExecExecutor{},
		Logger:    logger,
	}
}

// runState is the mutable state shared by step goroutines within one run.
type runState struct {
	mu       sync.Mutex
	vars     map[string]string
	captures map[string]string
	results  map[string]*StepResult
	done     map[string]chan struct{}
	ops      []output.FileOp
}

// Run validates and executes a recipe. A validation failure returns an
// error before any step runs; execution failures are reported through the
// result, never as an error.
func (e *Engine) Run(ctx context.Context, rec *schema.Recipe, opts RunOptions) (*RecipeResult, error) {
	return e.run(ctx, rec, opts, 0)
}

func (e *Engine) run(ctx context.Context, rec *schema.Recipe, opts RunOptions, depth int) (*RecipeResult, error) {
	issues := schema.Validate(rec)
	if errs := schema.Errors(issues); len(errs) > 0 {
		return nil, fmt.Errorf("recipe %q is invalid: %s", rec.Meta.Name, errs[0].Message)
	}

	result := &RecipeResult{
		RunID:   uuid.NewString(),
		Recipe:  rec.Meta.Name,
		Started: time.Now(),
	}
	logger := e.Logger.With("run_id", result.RunID, "recipe", rec.Meta.Name)
	logger.Info("run started", "steps", len(rec.Steps), "depth", depth)

	st := &runState{
		vars:     make(map[string]string, len(rec.Meta.Vars)+len(opts.Inputs)),
		captures: make(map[string]string),
		results:  make(map[string]*StepResult, len(rec.Steps)),
		done:     make(map[string]chan struct{}, len(rec.Steps)),
	}
	for k, v := range rec.Meta.Vars {
		st.vars[k] = v
	}
	for k, v := range opts.Inputs {
		st.vars[k] = v
	}

	stepsByName := make(map[string]schema.Step, len(rec.Steps))
	for _, s := range rec.Steps {
		stepsByName[s.Name] = s
		st.results[s.Name] = &StepResult{Name: s.Name, Status: StatusPending}
		st.done[s.Name] = make(chan struct{})
	}

	maxConc := int64(1)
	if rec.Engine != nil && rec.Engine.MaxConcurrency > 1 {
		maxConc = int64(rec.Engine.MaxConcurrency)
	}
	sem := semaphore.NewWeighted(maxConc)

	var governance *schema.GovernancePolicy
	if rec.Meta.Governance != nil {
		governance = rec.Meta.Governance
	}

	var wg sync.WaitGroup
	for _, s := range rec.Steps {
		wg.Add(1)
		go func(step schema.Step) {
			defer wg.Done()
			defer close(st.done[step.Name])
			e.dispatch(ctx, rec, step, stepsByName, st, sem, governance, opts, depth, logger)
		}(s)
	}
	wg.Wait()

	result.Finished = time.Now()
	for _, s := range rec.Steps {
		result.Steps = append(result.Steps, *st.results[s.Name])
	}
	result.Captures = st.captures
	result.Ops = st.ops
	result.Status = aggregate(ctx, result.Steps, stepsByName)

	logger.Info("run finished", "status", result.Status,
		"duration", result.Finished.Sub(result.Started).Round(time.Millisecond))
	return result, nil
}

// dispatch waits for a step's dependencies, applies skip/cancel
// propagation and the conditional guard, then executes the step under the
// concurrency limit.
func (e *Engine) dispatch(ctx context.Context, rec *schema.Recipe, step schema.Step,
	stepsByName map[string]schema.Step, st *runState, sem *semaphore.Weighted,
	governance *schema.GovernancePolicy, opts RunOptions, depth int, logger *slog.Logger) {

	res := st.results[step.Name]

	for _, dep := range step.Needs {
		select {
		case <-st.done[dep]:
		case <-ctx.Done():
			st.finish(res, StatusCancelled, "", "run cancelled")
			return
		}
	}

	// A dependency failure (without continue_on_error) or a propagated
	// skip blocks this step. A guard skip satisfies it.
	st.mu.Lock()
	var blockedBy string
	for _, dep := range step.Needs {
		depRes := st.results[dep]
		switch {
		case depRes.Status == StatusFailed && !stepsByName[dep].ContinueOnError:
			blockedBy = dep
		case depRes.Status == StatusSkipped && depRes.blocked:
			blockedBy = dep
		case depRes.Status == StatusCancelled:
			blockedBy = dep
		}
		if blockedBy != "" {
			break
		}
	}
	varsSnapshot := make(map[string]string, len(st.vars))
	for k, v := range st.vars {
		varsSnapshot[k] = v
	}
	st.mu.Unlock()

	if blockedBy != "" {
		res.blocked = true
		st.finish(res, StatusSkipped, "", fmt.Sprintf("dependency %q did not succeed", blockedBy))
		logger.Warn("step skipped", "step", step.Name, "blocked_by", blockedBy)
		return
	}

	if step.When != "" {
		ok, err := evalGuard(step.When, varsSnapshot)
		if err != nil {
			st.finish(res, StatusFailed, fmt.Sprintf("when guard: %v", err), "")
			return
		}
		if !ok {
			st.finish(res, StatusSkipped, "", fmt.Sprintf("guard %q evaluated to false", step.When))
			logger.Info("step skipped by guard", "step", step.Name)
			return
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		st.finish(res, StatusCancelled, "", "run cancelled")
		return
	}
	defer sem.Release(1)

	st.mu.Lock()
	res.Status = StatusRunning
	st.mu.Unlock()
	logger.Info("step started", "step", step.Name, "tool", step.Tool)

	rc := &tool.RunContext{
		Vars:       varsSnapshot,
		Renderer:   &render.Renderer{},
		Generator:  e.Generator,
		Executor:   e.Executor,
		Governance: governance,
		Logger:     logger.With("step", step.Name),
		Root:       e.Root,
		Depth:      depth,
		RunChild: func(cctx context.Context, path string, inputs map[string]string) (map[string]string, error) {
			return e.runChild(cctx, path, inputs, opts, depth+1)
		},
	}

	started := time.Now()
	toolRes, attempts, err := e.executeStep(ctx, rec, rc, step, logger)
	elapsed := time.Since(started)

	st.mu.Lock()
	defer st.mu.Unlock()
	res.Attempts = attempts
	res.Duration = elapsed
	if err != nil {
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			res.Reason = "run cancelled"
		} else {
			res.Status = StatusFailed
			res.Error = err.Error()
		}
		logger.Error("step failed", "step", step.Name, "attempts", attempts, "error", err)
		return
	}

	if len(toolRes.Ops) > 0 && !opts.DryRun && e.Writer != nil {
		if werr := e.Writer.Apply(toolRes.Ops); werr != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("apply file operations: %v", werr)
			logger.Error("step failed", "step", step.Name, "error", werr)
			return
		}
	}
	st.ops = append(st.ops, toolRes.Ops...)
	for _, op := range toolRes.Ops {
		res.Files = append(res.Files, op.Path)
	}
	for k, v := range toolRes.Captures {
		st.vars[k] = v
		st.captures[k] = v
	}

	res.Status = StatusSucceeded
	res.Summary = toolRes.Summary
	logger.Info("step succeeded", "step", step.Name,
		"duration", elapsed.Round(time.Millisecond))
}

// finish records a terminal status reached without executing the tool.
func (st *runState) finish(res *StepResult, status StepStatus, errText, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	res.Status = status
	res.Error = errText
	res.Reason = reason
}

// runChild loads and runs a nested recipe, surfacing its captures.
func (e *Engine) runChild(ctx context.Context, path string, inputs map[string]string, opts RunOptions, depth int) (map[string]string, error) {
	child, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := e.run(ctx, child, RunOptions{Inputs: inputs, DryRun: opts.DryRun}, depth)
	if err != nil {
		return nil, err
	}
	if res.Status != RunSucceeded {
		failed := res.Failed()
		if len(failed) > 0 {
			return nil, fmt.Errorf("child run %s: step %q failed: %s", res.Status, failed[0].Name, failed[0].Error)
		}
		return nil, fmt.Errorf("child run %s", res.Status)
	}
	return res.Captures, nil
}

// evalGuard evaluates a conditional guard expression against the run vars.
func evalGuard(expression string, vars map[string]string) (bool, error) {
	env := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("guard %q did not produce a boolean", expression)
	}
	return b, nil
}

// aggregate derives the run status from the per-step outcomes.
func aggregate(ctx context.Context, steps []StepResult, byName map[string]schema.Step) RunStatus {
	var failed, cancelled, blocked bool
	allFailuresTolerated := true
	for _, s := range steps {
		switch s.Status {
		case StatusFailed:
			failed = true
			if !byName[s.Name].ContinueOnError {
				allFailuresTolerated = false
			}
		case StatusCancelled:
			cancelled = true
		case StatusSkipped:
			if s.blocked {
				blocked = true
			}
		}
	}
	switch {
	case cancelled || ctx.Err() != nil:
		return RunCancelled
	case failed && allFailuresTolerated && !blocked:
		return RunCompletedWithErrors
	case failed || blocked:
		return RunFailed
	default:
		return RunSucceeded
	}
}

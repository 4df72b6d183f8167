// Package tool defines the polymorphic tool contract, the registry that
// resolves tool instances by type tag, and the builtin tool variants:
// template, action, codemod, recipe, mcp, and ai.
package tool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/weftlabs/weft/pkg/ai"
	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/render"
	"github.com/weftlabs/weft/pkg/schema"
)

// Tool is one polymorphic unit of work. Validate runs before Execute and
// short-circuits it on failure; Execute may be re-invoked on retry,
// Validate is not.
type Tool interface {
	// Kind returns the tool's type tag.
	Kind() string

	// Validate checks a step's parameters before execution. A validation
	// failure is recorded as a failed step result without invoking Execute.
	Validate(rc *RunContext, step schema.Step) error

	// Execute performs the step's work, producing file operations and/or
	// captured values.
	Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error)
}

// Result is what a tool execution produces: pending file operations plus
// values captured into the run's variable space.
type Result struct {
	Ops      []output.FileOp
	Captures map[string]string
	Summary  string
}

// RunContext carries the shared collaborators and mutable run state a
// tool needs. One RunContext is scoped to one recipe run.
type RunContext struct {
	// Vars holds recipe-scoped variables merged with values captured by
	// earlier steps. Reads and writes go through the engine, which owns
	// the locking.
	Vars map[string]string

	Renderer  *render.Renderer
	Generator *ai.Generator
	Executor  CommandExecutor

	Governance *schema.GovernancePolicy
	Logger     *slog.Logger

	// Root anchors relative template sources and context globs.
	Root string

	// Depth counts recipe nesting; the recipe tool refuses to exceed
	// MaxRecipeDepth.
	Depth int

	// RunChild executes a nested recipe. Wired by the engine so the tool
	// package needs no dependency on the scheduler.
	RunChild func(ctx context.Context, path string, inputs map[string]string) (map[string]string, error)
}

// templateVars converts the run's string vars into the map the template
// engine wants.
func (rc *RunContext) templateVars() map[string]interface{} {
	data := make(map[string]interface{}, len(rc.Vars))
	for k, v := range rc.Vars {
		data[k] = v
	}
	return data
}

// ResolveVars resolves Go template expressions in s against the run's
// variables. Strings without template markers pass through untouched.
func (rc *RunContext) ResolveVars(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("resolve").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rc.templateVars()); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// resolveArgv resolves template expressions in argv elements.
func (rc *RunContext) resolveArgv(argv []string) ([]string, error) {
	resolved := make([]string, len(argv))
	for i, arg := range argv {
		r, err := rc.ResolveVars(arg)
		if err != nil {
			return nil, err
		}
		resolved[i] = r
	}
	return resolved, nil
}

// resolveMap resolves template expressions in every map value.
func (rc *RunContext) resolveMap(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		r, err := rc.ResolveVars(v)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

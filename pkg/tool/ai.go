package tool

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/ai"
	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/schema"
)

// AITool runs a standalone generation step: one prompt, one generated
// artifact. With an output block the result lands as a file operation;
// without one it is captured under the step's name for later steps.
type AITool struct{}

func (t *AITool) Kind() string { return "ai" }

func (t *AITool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.AI
	if cfg == nil {
		return fmt.Errorf("step %q: missing ai config", step.Name)
	}
	if cfg.Prompt == "" {
		return fmt.Errorf("step %q: ai needs a prompt", step.Name)
	}
	if cfg.Output != nil && cfg.Output.To == "" {
		return fmt.Errorf("step %q: ai output needs a target", step.Name)
	}
	return nil
}

func (t *AITool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.AI

	if rc.Generator == nil {
		return nil, fmt.Errorf("step %q: no generator is configured", step.Name)
	}

	prompt, err := rc.ResolveVars(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve prompt: %w", step.Name, err)
	}
	system, err := rc.ResolveVars(cfg.System)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve system prompt: %w", step.Name, err)
	}

	req := &ai.Request{
		Key:            step.Name,
		Prompt:         prompt,
		System:         system,
		Context:        cfg.Context,
		Root:           rc.Root,
		Examples:       cfg.Examples,
		Guardrail:      cfg.Guardrail,
		Budget:         cfg.Budget,
		Model:          cfg.Model,
		FallbackModels: cfg.FallbackModels,
	}

	text, err := rc.Generator.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}

	if cfg.Output == nil {
		return &Result{
			Captures: map[string]string{step.Name: text},
			Summary:  fmt.Sprintf("generated %d bytes (captured as %q)", len(text), step.Name),
		}, nil
	}

	to, err := rc.ResolveVars(cfg.Output.To)
	if err != nil {
		return nil, fmt.Errorf("step %q: output target: %w", step.Name, err)
	}
	op := output.FileOp{
		Mode:    output.Mode(cfg.Output.Mode),
		Path:    to,
		Content: text,
		Anchor:  cfg.Output.Anchor,
		Before:  cfg.Output.Before,
	}
	if op.Mode == "" {
		op.Mode = output.ModeCreate
	}
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}

	return &Result{
		Ops:     []output.FileOp{op},
		Summary: fmt.Sprintf("generated %s", to),
	}, nil
}

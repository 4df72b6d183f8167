package tool

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/schema"
)

// CodemodTool emits an anchor-based inject or replace operation against an
// existing file. The actual mutation happens when the engine applies the
// step's file operations, so a failed step never leaves a half-edited file.
type CodemodTool struct{}

func (t *CodemodTool) Kind() string { return "codemod" }

func (t *CodemodTool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.Codemod
	if cfg == nil {
		return fmt.Errorf("step %q: missing codemod config", step.Name)
	}
	if cfg.File == "" {
		return fmt.Errorf("step %q: codemod needs a file", step.Name)
	}
	if cfg.Mode != string(output.ModeInject) && cfg.Mode != string(output.ModeReplace) {
		return fmt.Errorf("step %q: codemod mode must be inject or replace, got %q", step.Name, cfg.Mode)
	}
	if cfg.Anchor == "" {
		return fmt.Errorf("step %q: codemod needs an anchor", step.Name)
	}
	return nil
}

func (t *CodemodTool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.Codemod

	file, err := rc.ResolveVars(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve file: %w", step.Name, err)
	}
	content, err := rc.ResolveVars(cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve content: %w", step.Name, err)
	}

	op := output.FileOp{
		Mode:    output.Mode(cfg.Mode),
		Path:    file,
		Content: content,
		Anchor:  cfg.Anchor,
		Before:  cfg.Before,
	}
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}

	return &Result{
		Ops:     []output.FileOp{op},
		Summary: fmt.Sprintf("%s in %s at %q", cfg.Mode, file, cfg.Anchor),
	}, nil
}

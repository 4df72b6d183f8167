package tool

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/weftlabs/weft/pkg/schema"
)

// MaxRecipeDepth bounds recipe nesting so mutually-including recipes
// cannot recurse forever.
const MaxRecipeDepth = 5

// RecipeTool runs a child recipe inline as a sub-procedure. The child runs
// with its own variable space seeded from the step's inputs; its captures
// surface as the step's captures.
type RecipeTool struct{}

func (t *RecipeTool) Kind() string { return "recipe" }

func (t *RecipeTool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.Recipe
	if cfg == nil {
		return fmt.Errorf("step %q: missing recipe config", step.Name)
	}
	if cfg.File == "" {
		return fmt.Errorf("step %q: recipe needs a file", step.Name)
	}
	return nil
}

func (t *RecipeTool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.Recipe

	if rc.RunChild == nil {
		return nil, fmt.Errorf("step %q: nested recipes are not supported in this context", step.Name)
	}
	if rc.Depth >= MaxRecipeDepth {
		return nil, fmt.Errorf("step %q: recipe nesting exceeds maximum depth %d", step.Name, MaxRecipeDepth)
	}

	path, err := rc.ResolveVars(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve file: %w", step.Name, err)
	}
	if !filepath.IsAbs(path) && rc.Root != "" {
		path = filepath.Join(rc.Root, path)
	}

	inputs, err := rc.resolveMap(cfg.Inputs)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve inputs: %w", step.Name, err)
	}

	captures, err := rc.RunChild(ctx, path, inputs)
	if err != nil {
		return nil, fmt.Errorf("step %q: child recipe %s: %w", step.Name, cfg.File, err)
	}

	return &Result{
		Captures: captures,
		Summary:  fmt.Sprintf("ran child recipe %s", cfg.File),
	}, nil
}

package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weftlabs/weft/pkg/ai"
	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/render"
	"github.com/weftlabs/weft/pkg/schema"
)

// TemplateTool renders a template into a file operation. Templates that
// contain generation blocks run the two-pass protocol: a collect render
// harvests blocks, each block is generated through the AI pipeline, then a
// resolve render substitutes the answers in place.
type TemplateTool struct{}

func (t *TemplateTool) Kind() string { return "template" }

func (t *TemplateTool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.Template
	if cfg == nil {
		return fmt.Errorf("step %q: missing template config", step.Name)
	}
	if cfg.Source == "" && cfg.Inline == "" {
		return fmt.Errorf("step %q: template needs source or inline", step.Name)
	}
	if cfg.Source != "" && cfg.Inline != "" {
		return fmt.Errorf("step %q: template source and inline are mutually exclusive", step.Name)
	}
	if cfg.Output == nil || cfg.Output.To == "" {
		return fmt.Errorf("step %q: template needs an output target", step.Name)
	}
	return nil
}

func (t *TemplateTool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.Template

	text, name, err := t.loadSource(rc, cfg)
	if err != nil {
		return nil, err
	}

	vars := rc.templateVars()

	// Pass one: harvest generation blocks. Templates without blocks pay
	// only the cost of the render itself.
	col := render.NewCollector(rc.Logger)
	if _, err := rc.Renderer.Collect(name, text, vars, col); err != nil {
		return nil, fmt.Errorf("step %q: collect pass: %w", step.Name, err)
	}

	answers := render.AnswerMap{}
	if col.Len() > 0 {
		if rc.Generator == nil {
			return nil, fmt.Errorf("step %q: template has generation blocks but no generator is configured", step.Name)
		}
		answers, err = t.generate(ctx, rc, step, col)
		if err != nil {
			return nil, err
		}
	}

	// Pass two: substitute answers. No model is invoked here.
	rendered, err := rc.Renderer.Resolve(name, text, vars, answers)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve pass: %w", step.Name, err)
	}

	to, err := rc.ResolveVars(cfg.Output.To)
	if err != nil {
		return nil, fmt.Errorf("step %q: output target: %w", step.Name, err)
	}

	op := output.FileOp{
		Mode:    output.Mode(cfg.Output.Mode),
		Path:    to,
		Content: rendered,
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
		Summary: fmt.Sprintf("rendered %s (%d generation blocks)", to, col.Len()),
	}, nil
}

// generate runs every collected entry through the generation pipeline,
// producing the answer map for the resolve pass. Entries run in
// registration order; a failed entry fails the step.
func (t *TemplateTool) generate(ctx context.Context, rc *RunContext, step schema.Step, col *render.Collector) (render.AnswerMap, error) {
	defaults := step.Template.AI
	answers := make(render.AnswerMap, col.Len())

	for _, e := range col.Entries() {
		req := &ai.Request{
			Key:           e.Key,
			Prompt:        e.Prompt,
			Context:       e.Contexts,
			GlobalContext: col.GlobalContexts(),
			Root:          rc.Root,
			Examples:      e.Examples,
			Format:        e.Format,
			TypeHint:      e.TypeHint,
		}
		if defaults != nil {
			req.System = defaults.System
			req.Guardrail = defaults.Guardrail
			req.Budget = defaults.Budget
			req.Model = defaults.Model
			req.FallbackModels = defaults.FallbackModels
			req.Context = append(req.Context, defaults.Context...)
		}

		text, err := rc.Generator.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("step %q: generate block %q: %w", step.Name, e.Key, err)
		}
		answers[e.Key] = text
	}
	return answers, nil
}

// loadSource returns the template text and a name for error reporting.
func (t *TemplateTool) loadSource(rc *RunContext, cfg *schema.TemplateConfig) (text, name string, err error) {
	if cfg.Inline != "" {
		return cfg.Inline, "inline", nil
	}
	path := cfg.Source
	if !filepath.IsAbs(path) && rc.Root != "" {
		path = filepath.Join(rc.Root, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read template %s: %w", cfg.Source, err)
	}
	return string(b), cfg.Source, nil
}

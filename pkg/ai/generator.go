// Package ai implements generation steps: context collection, prompt
// assembly, model routing with a fallback chain, budget enforcement, and
// output validation with retry-with-feedback.
package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/weftlabs/weft/pkg/schema"
)

// Request describes one generation: either an AI step's config or a
// collected generation block from a template's collect pass.
type Request struct {
	// Key identifies the generation site; it joins a collected entry to
	// its eventual answer.
	Key    string
	Prompt string
	System string

	// Context is the explicit file-glob list read verbatim into the
	// prompt. GlobalContext holds template-level declarations shared by
	// every block in a render.
	Context       []string
	GlobalContext []string

	// Root anchors relative context globs. Empty falls back to the
	// generator's root.
	Root string

	Examples []schema.Example
	Format   string
	TypeHint string

	Guardrail *schema.Guardrail
	Budget    *schema.Budget

	// Model plus FallbackModels form the fallback chain.
	Model          string
	FallbackModels []string
}

// Chain returns the ordered provider/model fallback chain.
func (r *Request) Chain() []string {
	chain := make([]string, 0, 1+len(r.FallbackModels))
	if r.Model != "" {
		chain = append(chain, r.Model)
	}
	chain = append(chain, r.FallbackModels...)
	return chain
}

// Generator runs generation requests end to end. A single Generator is
// shared across a recipe run; its Tracker enforces the run-level budget
// when a request has no budget of its own.
type Generator struct {
	Router  *Router
	Tracker *Tracker
	Logger  *slog.Logger

	// Root anchors relative context globs.
	Root string

	// DefaultModel is used when a request names no model.
	DefaultModel string
}

// NewGenerator creates a generator with builtin providers and an
// unlimited run budget. logger may be nil.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Router:       NewRouter(logger),
		Tracker:      NewTracker(nil),
		Logger:       logger,
		DefaultModel: "gpt-4o-mini",
	}
}

// Generate executes one request: collect context, assemble the prompt,
// enforce the budget, route to a model, validate the output, and retry
// with feedback until the guardrail's maximum. On exhausted retries the
// guardrail's failure policy applies: fallback substitution or error.
func (g *Generator) Generate(ctx context.Context, req *Request) (string, error) {
	invocation := uuid.NewString()
	logger := g.Logger.With("key", req.Key, "invocation", invocation)

	chain := req.Chain()
	if len(chain) == 0 {
		chain = []string{g.DefaultModel}
	}

	root := req.Root
	if root == "" {
		root = g.Root
	}
	fragments, err := CollectContext(root, req.Context)
	if err != nil {
		return "", fmt.Errorf("collect context for %q: %w", req.Key, err)
	}
	globalFragments, err := CollectContext(root, req.GlobalContext)
	if err != nil {
		return "", fmt.Errorf("collect global context for %q: %w", req.Key, err)
	}
	ctxText := formatFragments(fragments)
	globalText := formatFragments(globalFragments)

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	tracker := g.Tracker
	if req.Budget != nil {
		tracker = NewTracker(req.Budget)
	}

	maxRetries := 0
	if req.Guardrail != nil {
		maxRetries = req.Guardrail.MaxRetries
	}

	feedback := ""
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		userPrompt, err := buildUserPrompt(req, ctxText, globalText, feedback)
		if err != nil {
			return "", fmt.Errorf("assemble prompt for %q: %w", req.Key, err)
		}

		text, err := g.invoke(ctx, tracker, chain, systemPrompt, userPrompt, logger)
		if err != nil {
			// Budget errors are terminal for this entry: retrying would
			// not change the estimate. Cancellation propagates as-is.
			return "", err
		}

		if err := CheckOutput(req.Guardrail, text); err != nil {
			lastErr = err
			feedback = err.Error()
			logger.Warn("output failed validation", "attempt", attempt+1, "reason", err)
			continue
		}
		return text, nil
	}

	// Retries exhausted — apply the failure policy.
	if req.Guardrail != nil && req.Guardrail.OnFailure == "fallback" {
		logger.Warn("retries exhausted, substituting fallback", "reason", lastErr)
		return req.Guardrail.Fallback, nil
	}
	return "", fmt.Errorf("generation %q failed after %d attempts: %w", req.Key, maxRetries+1, lastErr)
}

// invoke runs the budget gate and one model call. The token estimate is
// checked before any cost estimation: the pricing lookup and arithmetic
// run inside the reservation, after the token ceiling passes.
func (g *Generator) invoke(ctx context.Context, tracker *Tracker, chain []string, systemPrompt, userPrompt string, logger *slog.Logger) (string, error) {
	promptTokens := EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
	estTokens := promptTokens + defaultMaxCompletionTokens

	estCost, err := tracker.Reserve(estTokens, func() float64 {
		pricing := PricingFor(firstModel(chain))
		return float64(promptTokens)/1000*pricing.InputUSDPer1K +
			float64(defaultMaxCompletionTokens)/1000*pricing.OutputUSDPer1K
	})
	if err != nil {
		return "", err
	}

	comp, model, err := g.Router.Complete(ctx, chain, systemPrompt, userPrompt)
	if err != nil {
		// The reservation was never consumed.
		tracker.Settle(estTokens, estCost, 0, 0)
		return "", fmt.Errorf("model invocation: %w", err)
	}

	actualPricing := PricingFor(stripProvider(model))
	actualTokens := comp.Usage.InputTokens + comp.Usage.OutputTokens
	actualCost := float64(comp.Usage.InputTokens)/1000*actualPricing.InputUSDPer1K +
		float64(comp.Usage.OutputTokens)/1000*actualPricing.OutputUSDPer1K
	tracker.Settle(estTokens, estCost, actualTokens, actualCost)

	logger.Debug("model call complete", "model", model,
		"input_tokens", comp.Usage.InputTokens, "output_tokens", comp.Usage.OutputTokens)
	return comp.Text, nil
}

func firstModel(chain []string) string {
	if len(chain) == 0 {
		return ""
	}
	return stripProvider(chain[0])
}

func stripProvider(spec string) string {
	if _, model, err := splitModelSpec(spec); err == nil {
		return model
	}
	return spec
}

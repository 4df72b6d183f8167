package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ClientFactory constructs a Client for one model. Factories run lazily:
// a provider that no recipe references imposes no startup or credential
// cost.
type ClientFactory func(model string) (Client, error)

// Router resolves a concrete provider/model for a generation, trying each
// entry of a fallback chain until one succeeds or the chain is exhausted.
type Router struct {
	mu        sync.Mutex
	factories map[string]ClientFactory
	clients   map[string]Client // cache keyed by full model spec
	logger    *slog.Logger
}

// NewRouter creates a router with the builtin providers (openai, azure,
// anthropic) registered. logger may be nil.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		factories: make(map[string]ClientFactory),
		clients:   make(map[string]Client),
		logger:    logger,
	}
	r.RegisterProvider("openai", func(model string) (Client, error) { return NewOpenAIClient(model) })
	r.RegisterProvider("azure", func(model string) (Client, error) { return NewAzureOpenAIClient(model) })
	r.RegisterProvider("anthropic", func(model string) (Client, error) { return NewAnthropicClient(model) })
	return r
}

// RegisterProvider adds (or replaces) a provider factory by name. External
// callers use this to plug in additional providers; last registration wins.
func (r *Router) RegisterProvider(name string, factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// splitModelSpec parses "provider:model" specs. A bare model name has its
// provider inferred from well-known prefixes.
func splitModelSpec(spec string) (provider, model string, err error) {
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		provider, model = spec[:i], spec[i+1:]
		if provider == "" || model == "" {
			return "", "", fmt.Errorf("malformed model spec %q, want provider:model", spec)
		}
		return provider, model, nil
	}
	switch {
	case strings.HasPrefix(spec, "claude"):
		return "anthropic", spec, nil
	case strings.HasPrefix(spec, "gpt"), strings.HasPrefix(spec, "o1"), strings.HasPrefix(spec, "o3"), strings.HasPrefix(spec, "o4"):
		return "openai", spec, nil
	default:
		return "", "", fmt.Errorf("cannot infer provider for model %q, use provider:model", spec)
	}
}

// Resolve returns a cached or newly-constructed client for a model spec.
func (r *Router) Resolve(spec string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[spec]; ok {
		return c, nil
	}

	provider, model, err := splitModelSpec(spec)
	if err != nil {
		return nil, err
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", provider)
	}
	c, err := factory(model)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", provider, err)
	}
	r.clients[spec] = c
	return c, nil
}

// Complete tries each model spec in chain order, returning the first
// successful completion. A spec that cannot be resolved (e.g. missing
// credentials) or whose call fails moves the chain along; the last error
// is returned if every entry fails.
func (r *Router) Complete(ctx context.Context, chain []string, systemPrompt, userPrompt string) (*Completion, string, error) {
	if len(chain) == 0 {
		return nil, "", fmt.Errorf("empty model chain")
	}

	var lastErr error
	for _, spec := range chain {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		client, err := r.Resolve(spec)
		if err != nil {
			r.logger.Warn("model unavailable, trying next in chain", "model", spec, "error", err)
			lastErr = err
			continue
		}
		comp, err := client.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			r.logger.Warn("model call failed, trying next in chain", "model", spec, "error", err)
			lastErr = err
			continue
		}
		return comp, spec, nil
	}
	return nil, "", fmt.Errorf("model chain exhausted: %w", lastErr)
}

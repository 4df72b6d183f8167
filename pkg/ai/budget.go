package ai

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// ErrBudgetExceeded marks token/cost ceiling failures. Budget errors are
// never retried: retrying would not change the estimate.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Pricing is the per-1K-token price for a model.
type Pricing struct {
	InputUSDPer1K  float64
	OutputUSDPer1K float64
}

// modelPricing lists known per-model prices. Unknown models fall back to
// defaultPricing, which is deliberately conservative (expensive) so that
// budget checks err on the side of rejecting.
var modelPricing = map[string]Pricing{
	"gpt-4o":                    {InputUSDPer1K: 0.0025, OutputUSDPer1K: 0.01},
	"gpt-4o-mini":               {InputUSDPer1K: 0.00015, OutputUSDPer1K: 0.0006},
	"gpt-4.1":                   {InputUSDPer1K: 0.002, OutputUSDPer1K: 0.008},
	"gpt-4.1-mini":              {InputUSDPer1K: 0.0004, OutputUSDPer1K: 0.0016},
	"claude-sonnet-4-5":         {InputUSDPer1K: 0.003, OutputUSDPer1K: 0.015},
	"claude-haiku-4-5":          {InputUSDPer1K: 0.001, OutputUSDPer1K: 0.005},
	"claude-opus-4-5":           {InputUSDPer1K: 0.005, OutputUSDPer1K: 0.025},
}

var defaultPricing = Pricing{InputUSDPer1K: 0.01, OutputUSDPer1K: 0.03}

// PricingFor returns the pricing entry for a model name. Versioned names
// (claude-sonnet-4-5-20250929) match their unversioned prefix.
func PricingFor(model string) Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	for name, p := range modelPricing {
		if strings.HasPrefix(model, name) {
			return p
		}
	}
	return defaultPricing
}

// EstimateTokens approximates the token count of text. Token counting here
// is a local, cheap computation; ~4 characters per token is close enough
// for ceiling enforcement.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Tracker maintains running token and cost counters against configured
// ceilings. The check-order contract is fixed: the token estimate is
// validated before the cost estimate. Check+reserve is one critical
// section so two concurrent generations cannot both pass a check against
// a budget only one of them can satisfy.
type Tracker struct {
	mu        sync.Mutex
	maxTokens int     // 0 = unlimited
	maxCost   float64 // 0 = unlimited
	tokens    int
	cost      float64
}

// NewTracker creates a tracker from a budget descriptor. A nil budget
// means no ceilings.
func NewTracker(b *schema.Budget) *Tracker {
	t := &Tracker{}
	if b != nil {
		t.maxTokens = b.MaxTokens
		t.maxCost = b.MaxCostUSD
	}
	return t
}

// Reserve checks the token estimate against the token ceiling first; only
// when it passes does estimate run to produce the cost figure checked
// against the cost ceiling. On success both are recorded and the reserved
// cost is returned for the matching Settle.
func (t *Tracker) Reserve(tokens int, estimate func() float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTokens > 0 && t.tokens+tokens > t.maxTokens {
		return 0, fmt.Errorf("%w: %d tokens estimated, %d of %d already spent",
			ErrBudgetExceeded, tokens, t.tokens, t.maxTokens)
	}
	cost := estimate()
	if t.maxCost > 0 && t.cost+cost > t.maxCost {
		return 0, fmt.Errorf("%w: $%.4f estimated, $%.4f of $%.4f already spent",
			ErrBudgetExceeded, cost, t.cost, t.maxCost)
	}

	t.tokens += tokens
	t.cost += cost
	return cost, nil
}

// Settle replaces a reservation with the actual usage reported by the
// provider, so later checks run against real spend rather than estimates.
func (t *Tracker) Settle(reservedTokens int, reservedCost float64, actualTokens int, actualCost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += actualTokens - reservedTokens
	t.cost += actualCost - reservedCost
	if t.tokens < 0 {
		t.tokens = 0
	}
	if t.cost < 0 {
		t.cost = 0
	}
}

// Spent reports the tokens and cost consumed so far.
func (t *Tracker) Spent() (tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens, t.cost
}

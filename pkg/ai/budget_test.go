package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/weftlabs/weft/pkg/schema"
)

func fixedCost(v float64) func() float64 {
	return func() float64 { return v }
}

func TestTrackerTokenCeiling(t *testing.T) {
	tr := NewTracker(&schema.Budget{MaxTokens: 100})
	if _, err := tr.Reserve(60, fixedCost(0)); err != nil {
		t.Fatal(err)
	}
	_, err := tr.Reserve(60, fixedCost(0))
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestTrackerChecksTokensBeforeCost(t *testing.T) {
	// Both ceilings would be violated; the error must come from the token
	// check, which runs first.
	tr := NewTracker(&schema.Budget{MaxTokens: 10, MaxCostUSD: 0.01})
	_, err := tr.Reserve(1000, fixedCost(5.0))
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "tokens") {
		t.Errorf("token ceiling must be reported first, got %q", err)
	}
}

func TestTrackerNoCostEstimateWhenTokensExceed(t *testing.T) {
	tr := NewTracker(&schema.Budget{MaxTokens: 10, MaxCostUSD: 0.01})
	called := false
	_, err := tr.Reserve(1000, func() float64 {
		called = true
		return 5.0
	})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if called {
		t.Error("cost estimation must not run when the token ceiling already fails")
	}
}

func TestTrackerCostCeilingWhenTokensPass(t *testing.T) {
	tr := NewTracker(&schema.Budget{MaxTokens: 1000000, MaxCostUSD: 0.01})
	_, err := tr.Reserve(100, fixedCost(5.0))
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "$") {
		t.Errorf("cost ceiling should be reported, got %q", err)
	}
}

func TestTrackerSettleReplacesReservation(t *testing.T) {
	tr := NewTracker(&schema.Budget{MaxTokens: 100})
	if _, err := tr.Reserve(90, fixedCost(0)); err != nil {
		t.Fatal(err)
	}
	// The call actually used far less than reserved; later reservations
	// must run against real spend.
	tr.Settle(90, 0, 20, 0)
	if _, err := tr.Reserve(70, fixedCost(0)); err != nil {
		t.Fatalf("reservation after settle should fit: %v", err)
	}
	tokens, _ := tr.Spent()
	if tokens != 90 {
		t.Errorf("spent tokens = %d, want 90", tokens)
	}
}

func TestTrackerUnlimitedByDefault(t *testing.T) {
	tr := NewTracker(nil)
	if _, err := tr.Reserve(1_000_000, fixedCost(1000)); err != nil {
		t.Fatal(err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("EstimateTokens = %d, want 100", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d", got)
	}
}

func TestPricingForUnknownModelIsConservative(t *testing.T) {
	p := PricingFor("some-future-model")
	if p.InputUSDPer1K <= 0 || p.OutputUSDPer1K <= 0 {
		t.Errorf("unknown models must price above zero: %+v", p)
	}
}

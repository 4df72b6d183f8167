package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weftlabs/weft/pkg/schema"
)

// testGenerator wires a generator whose "fake" provider serves client.
func testGenerator(client Client) *Generator {
	g := NewGenerator(nil)
	g.Router.RegisterProvider("fake", func(model string) (Client, error) { return client, nil })
	g.DefaultModel = "fake:model"
	return g
}

func TestGenerateReturnsModelText(t *testing.T) {
	c := &fakeClient{model: "model", responses: []string{"func Add(a, b int) int { return a + b }"}}
	g := testGenerator(c)

	text, err := g.Generate(context.Background(), &Request{Key: "add", Prompt: "write add"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "func Add") {
		t.Errorf("got %q", text)
	}
	if c.calls != 1 {
		t.Errorf("calls = %d, want 1", c.calls)
	}
}

func TestGenerateRetriesWithFeedback(t *testing.T) {
	// First response fails the JSON guardrail, second passes. The retry
	// prompt must carry the failure reason.
	c := &recordingClient{responses: []string{"not json at all", `{"ok": true}`}}
	g := testGenerator(c)

	req := &Request{
		Key:       "cfg",
		Prompt:    "emit config",
		Guardrail: &schema.Guardrail{Validate: "json", MaxRetries: 2},
	}
	text, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if text != `{"ok": true}` {
		t.Errorf("got %q", text)
	}
	if len(c.prompts) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(c.prompts))
	}
	if strings.Contains(c.prompts[0], "Previous attempt") {
		t.Error("first prompt must not carry feedback")
	}
	if !strings.Contains(c.prompts[1], "Previous attempt") {
		t.Error("retry prompt must carry the rejection feedback")
	}
}

func TestGenerateRetryCountIsBounded(t *testing.T) {
	// max_retries: 1 means at most 2 invocations total.
	c := &recordingClient{responses: []string{"junk", "junk", "junk"}}
	g := testGenerator(c)

	req := &Request{
		Key:    "cfg",
		Prompt: "emit config",
		Guardrail: &schema.Guardrail{
			Validate:   "json",
			MaxRetries: 1,
			OnFailure:  "fallback",
			Fallback:   "{}",
		},
	}
	text, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if text != "{}" {
		t.Errorf("fallback text expected, got %q", text)
	}
	if len(c.prompts) != 2 {
		t.Errorf("expected exactly 2 invocations, got %d", len(c.prompts))
	}
}

func TestGenerateFailurePolicyError(t *testing.T) {
	c := &recordingClient{responses: []string{"junk"}}
	g := testGenerator(c)

	req := &Request{
		Key:       "cfg",
		Prompt:    "emit config",
		Guardrail: &schema.Guardrail{Validate: "json", OnFailure: "error"},
	}
	if _, err := g.Generate(context.Background(), req); err == nil {
		t.Fatal("exhausted retries with on_failure=error must fail")
	}
}

func TestGenerateBudgetErrorIsTerminal(t *testing.T) {
	c := &recordingClient{responses: []string{"ok"}}
	g := testGenerator(c)

	req := &Request{
		Key:       "big",
		Prompt:    "write everything",
		Budget:    &schema.Budget{MaxTokens: 1}, // below any estimate
		Guardrail: &schema.Guardrail{MaxRetries: 5},
	}
	_, err := g.Generate(context.Background(), req)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if len(c.prompts) != 0 {
		t.Errorf("budget must be enforced before any model call, got %d calls", len(c.prompts))
	}
}

func TestGenerateRunBudgetSharedAcrossRequests(t *testing.T) {
	c := &fakeClient{model: "model"}
	g := testGenerator(c)
	g.Tracker = NewTracker(&schema.Budget{MaxTokens: defaultMaxCompletionTokens + 2000})

	if _, err := g.Generate(context.Background(), &Request{Key: "a", Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	// The first call settled to its tiny actual usage, so a second fits.
	if _, err := g.Generate(context.Background(), &Request{Key: "b", Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateCancelledContext(t *testing.T) {
	c := &fakeClient{model: "model"}
	g := testGenerator(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, &Request{Key: "a", Prompt: "p"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateIncludesContextFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.go"), []byte("package api\ntype Widget struct{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &recordingClient{responses: []string{"ok"}}
	g := testGenerator(c)
	g.Root = dir

	req := &Request{Key: "k", Prompt: "use the types", Context: []string{"*.go"}}
	if _, err := g.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(c.prompts) != 1 || !strings.Contains(c.prompts[0], "type Widget struct{}") {
		t.Error("context file content must appear verbatim in the prompt")
	}
}

func TestCollectContextNoMatchIsNotAnError(t *testing.T) {
	frags, err := CollectContext(t.TempDir(), []string{"nothing/*.xyz"})
	if err != nil {
		t.Fatal(err)
	}
	if len(frags) != 0 {
		t.Errorf("expected no fragments, got %d", len(frags))
	}
}

// recordingClient captures every user prompt it receives.
type recordingClient struct {
	responses []string
	calls     int
	prompts   []string
}

func (r *recordingClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	r.prompts = append(r.prompts, userPrompt)
	i := r.calls
	r.calls++
	if i >= len(r.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", i)
	}
	return &Completion{Text: r.responses[i], Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (r *recordingClient) ModelName() string { return "recording" }

package ai

import (
	"context"
	"fmt"
	"testing"
)

// fakeClient is a scripted model client for tests.
type fakeClient struct {
	model     string
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := "ok"
	if i < len(f.responses) {
		text = f.responses[i]
	} else if len(f.responses) > 0 {
		text = f.responses[len(f.responses)-1]
	}
	return &Completion{Text: text, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (f *fakeClient) ModelName() string { return f.model }

func TestSplitModelSpec(t *testing.T) {
	cases := []struct {
		spec, provider, model string
		wantErr               bool
	}{
		{"openai:gpt-4o", "openai", "gpt-4o", false},
		{"azure:gpt-4o-deploy", "azure", "gpt-4o-deploy", false},
		{"claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5", false},
		{"gpt-4o-mini", "openai", "gpt-4o-mini", false},
		{"o3-mini", "openai", "o3-mini", false},
		{"mystery-model", "", "", true},
		{":gpt", "", "", true},
		{"openai:", "", "", true},
	}
	for _, tc := range cases {
		provider, model, err := splitModelSpec(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.spec, err)
			continue
		}
		if provider != tc.provider || model != tc.model {
			t.Errorf("%q: got %s/%s, want %s/%s", tc.spec, provider, model, tc.provider, tc.model)
		}
	}
}

func TestRouterFallsBackThroughChain(t *testing.T) {
	r := NewRouter(nil)
	primary := &fakeClient{model: "primary", errs: []error{fmt.Errorf("rate limited")}}
	backup := &fakeClient{model: "backup", responses: []string{"from backup"}}
	r.RegisterProvider("fake", func(model string) (Client, error) {
		switch model {
		case "primary":
			return primary, nil
		case "backup":
			return backup, nil
		}
		return nil, fmt.Errorf("unknown model %q", model)
	})

	comp, spec, err := r.Complete(context.Background(), []string{"fake:primary", "fake:backup"}, "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	if comp.Text != "from backup" || spec != "fake:backup" {
		t.Errorf("got %q from %q", comp.Text, spec)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls: primary=%d backup=%d", primary.calls, backup.calls)
	}
}

func TestRouterSkipsUnresolvableProviders(t *testing.T) {
	r := NewRouter(nil)
	working := &fakeClient{model: "m"}
	r.RegisterProvider("fake", func(model string) (Client, error) { return working, nil })

	// The first chain entry has no registered provider; the router moves on.
	comp, spec, err := r.Complete(context.Background(), []string{"ghost:m", "fake:m"}, "s", "u")
	if err != nil {
		t.Fatal(err)
	}
	if comp == nil || spec != "fake:m" {
		t.Errorf("expected fallback to fake:m, got %q", spec)
	}
}

func TestRouterExhaustedChain(t *testing.T) {
	r := NewRouter(nil)
	r.RegisterProvider("fake", func(model string) (Client, error) {
		return &fakeClient{model: model, errs: []error{fmt.Errorf("down"), fmt.Errorf("down")}}, nil
	})
	_, _, err := r.Complete(context.Background(), []string{"fake:a", "fake:b"}, "s", "u")
	if err == nil {
		t.Fatal("expected chain exhaustion error")
	}
}

func TestRouterCachesClients(t *testing.T) {
	r := NewRouter(nil)
	built := 0
	r.RegisterProvider("fake", func(model string) (Client, error) {
		built++
		return &fakeClient{model: model}, nil
	})
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve("fake:m"); err != nil {
			t.Fatal(err)
		}
	}
	if built != 1 {
		t.Errorf("factory ran %d times, want 1", built)
	}
}

func TestRouterProvidersAreLazy(t *testing.T) {
	r := NewRouter(nil)
	r.RegisterProvider("fake", func(model string) (Client, error) {
		t.Fatal("factory must not run until its provider is referenced")
		return nil, nil
	})
	// Registering alone constructs nothing.
}

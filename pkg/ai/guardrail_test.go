package ai

import (
	"testing"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestCheckOutputKinds(t *testing.T) {
	cases := []struct {
		name    string
		g       *schema.Guardrail
		text    string
		wantErr bool
	}{
		{"nil guardrail accepts anything", nil, "", false},
		{"none accepts empty", &schema.Guardrail{Validate: "none"}, "", false},
		{"non-empty rejects whitespace", &schema.Guardrail{Validate: "non-empty"}, "   \n", true},
		{"non-empty accepts text", &schema.Guardrail{Validate: "non-empty"}, "x", false},
		{"json accepts object", &schema.Guardrail{Validate: "json"}, `{"a": 1}`, false},
		{"json accepts fenced object", &schema.Guardrail{Validate: "json"}, "```json\n{\"a\": 1}\n```", false},
		{"json rejects prose", &schema.Guardrail{Validate: "json"}, "here is your json: {", true},
		{"yaml accepts mapping", &schema.Guardrail{Validate: "yaml"}, "a: 1\nb: two", false},
		{"yaml rejects tab indent", &schema.Guardrail{Validate: "yaml"}, "a:\n\t- x", true},
		{"go-template accepts actions", &schema.Guardrail{Validate: "go-template"}, "{{ .Name }}", false},
		{"go-template rejects unclosed action", &schema.Guardrail{Validate: "go-template"}, "{{ .Name", true},
		{"regex match", &schema.Guardrail{Validate: "regex", Pattern: `^func `}, "func Foo() {}", false},
		{"regex mismatch", &schema.Guardrail{Validate: "regex", Pattern: `^func `}, "type Foo struct{}", true},
		{"unknown kind", &schema.Guardrail{Validate: "xml"}, "<a/>", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckOutput(tc.g, tc.text)
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckOutputJSONSchema(t *testing.T) {
	g := &schema.Guardrail{
		Validate: "json-schema",
		Schema:   `{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`,
	}
	if err := CheckOutput(g, `{"name": "widget"}`); err != nil {
		t.Errorf("conforming document rejected: %v", err)
	}
	if err := CheckOutput(g, `{"id": 7}`); err == nil {
		t.Error("document missing required field must be rejected")
	}
	if err := CheckOutput(g, `not json`); err == nil {
		t.Error("non-JSON output must be rejected")
	}
}

func TestCheckOutputExpect(t *testing.T) {
	g := &schema.Guardrail{
		Validate: "non-empty",
		Expect:   `hasPrefix(output, "package ")`,
	}
	if err := CheckOutput(g, "package api\n"); err != nil {
		t.Errorf("conforming output rejected: %v", err)
	}
	if err := CheckOutput(g, "import api\n"); err == nil {
		t.Error("expect check must reject non-conforming output")
	}
}

func TestCheckOutputExpectCompileError(t *testing.T) {
	g := &schema.Guardrail{Expect: `output +`}
	if err := CheckOutput(g, "x"); err == nil {
		t.Error("malformed expect expression must error")
	}
}

func TestStripCodeFence(t *testing.T) {
	in := "```go\nfunc main() {}\n```"
	if got := StripCodeFence(in); got != "func main() {}" {
		t.Errorf("got %q", got)
	}
	if got := StripCodeFence("plain"); got != "plain" {
		t.Errorf("unfenced text must pass through, got %q", got)
	}
}

package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/weftlabs/weft/pkg/schema"
	"gopkg.in/yaml.v3"
)

// CheckOutput validates generated text against a guardrail. A nil
// guardrail accepts anything. The returned error carries the reason fed
// back into the follow-up prompt on retry.
func CheckOutput(g *schema.Guardrail, text string) error {
	if g == nil {
		return nil
	}

	switch g.Validate {
	case "", "none":
	case "non-empty":
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("output is empty")
		}
	case "json":
		if err := checkJSON(text); err != nil {
			return err
		}
	case "yaml":
		var doc interface{}
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return fmt.Errorf("output is not valid YAML: %v", err)
		}
	case "json-schema":
		if err := checkJSONSchema(g.Schema, text); err != nil {
			return err
		}
	case "go-template":
		if _, err := template.New("output").Parse(text); err != nil {
			return fmt.Errorf("output is not a valid Go template: %v", err)
		}
	case "regex":
		re, err := regexp.Compile(g.Pattern)
		if err != nil {
			return fmt.Errorf("guardrail pattern %q: %w", g.Pattern, err)
		}
		if !re.MatchString(text) {
			return fmt.Errorf("output does not match required pattern %q", g.Pattern)
		}
	default:
		return fmt.Errorf("unknown guardrail validate kind %q", g.Validate)
	}

	if g.Expect != "" {
		ok, err := evalExpect(g.Expect, text)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("output failed expect check %q", g.Expect)
		}
	}
	return nil
}

// checkJSON validates the output parses as JSON. A wrapping code fence is
// stripped first since models add them despite instructions.
func checkJSON(text string) error {
	stripped := StripCodeFence(text)
	if !json.Valid([]byte(stripped)) {
		return fmt.Errorf("output is not valid JSON")
	}
	return nil
}

// checkJSONSchema validates JSON output against an inline JSON Schema.
func checkJSONSchema(schemaDoc, text string) error {
	if schemaDoc == "" {
		return fmt.Errorf("guardrail validate=json-schema but no schema configured")
	}

	sd, err := sjsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
	if err != nil {
		return fmt.Errorf("parse guardrail schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("guardrail.json", sd); err != nil {
		return fmt.Errorf("add guardrail schema: %w", err)
	}
	sch, err := c.Compile("guardrail.json")
	if err != nil {
		return fmt.Errorf("compile guardrail schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &doc); err != nil {
		return fmt.Errorf("output is not valid JSON: %v", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %v", err)
	}
	return nil
}

// evalExpect evaluates an expr-lang expression with the generated text
// bound as "output".
func evalExpect(expect, text string) (bool, error) {
	env := map[string]interface{}{"output": text}
	program, err := expr.Compile(expect, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile expect %q: %w", expect, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval expect %q: %w", expect, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expect %q did not return bool (got %T)", expect, out)
	}
	return result, nil
}

// StripCodeFence removes a wrapping ```...``` code fence if present.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
		if last := strings.LastIndex(trimmed, "```"); last != -1 {
			trimmed = trimmed[:last]
		}
	}
	return strings.TrimSpace(trimmed)
}

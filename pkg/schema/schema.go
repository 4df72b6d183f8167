// Package schema defines the Go struct types for the recipe YAML schema
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Recipe is the top-level document: a named, versioned collection of
// dependency-ordered steps plus recipe-scoped variables.
type Recipe struct {
	APIVersion string        `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=recipe/v1"`
	Meta       Meta          `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Engine     *EngineConfig `yaml:"engine,omitempty" json:"engine,omitempty"`
	Steps      []Step        `yaml:"steps"      json:"steps"      jsonschema:"required,minItems=1"`
}

// Meta contains recipe metadata and recipe-scoped variables.
type Meta struct {
	Name        string            `yaml:"name"                  json:"name" jsonschema:"required"`
	Version     string            `yaml:"version,omitempty"     json:"version,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"        json:"vars,omitempty"`
	Governance  *GovernancePolicy `yaml:"governance,omitempty"  json:"governance,omitempty"`
	Defaults    *Defaults         `yaml:"defaults,omitempty"    json:"defaults,omitempty"`
}

// EngineConfig tunes how the engine schedules steps.
type EngineConfig struct {
	// MaxConcurrency caps how many mutually-independent steps run at once.
	// Zero or absent means serial execution.
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" jsonschema:"minimum=0"`
}

// Defaults specifies default execution settings applied to all steps.
type Defaults struct {
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"pattern=^([0-9]+(ns|us|µs|ms|s|m|h))+$"`
}

// GovernancePolicy defines safety rules for action steps.
type GovernancePolicy struct {
	AllowedCommands []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	DeniedCommands  []string `yaml:"denied_commands,omitempty"  json:"denied_commands,omitempty"`
}

// Step is a single unit of work, executed by exactly one tool. Exactly one
// of the tool config blocks must be set, matching the Tool type tag.
type Step struct {
	Name            string          `yaml:"name"              json:"name" jsonschema:"required"`
	Tool            string          `yaml:"tool"              json:"tool" jsonschema:"required,enum=template,enum=action,enum=codemod,enum=recipe,enum=mcp,enum=ai"`
	Needs           []string        `yaml:"needs,omitempty"   json:"needs,omitempty"`
	When            string          `yaml:"when,omitempty"    json:"when,omitempty"`
	ContinueOnError bool            `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	Retries         int             `yaml:"retries,omitempty" json:"retries,omitempty" jsonschema:"minimum=0"`
	Timeout         string          `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"pattern=^([0-9]+(ns|us|µs|ms|s|m|h))+$"`
	Template        *TemplateConfig `yaml:"template,omitempty" json:"template,omitempty"`
	Action          *ActionConfig   `yaml:"action,omitempty"  json:"action,omitempty"`
	Codemod         *CodemodConfig  `yaml:"codemod,omitempty" json:"codemod,omitempty"`
	Recipe          *RecipeConfig   `yaml:"recipe,omitempty"  json:"recipe,omitempty"`
	MCP             *MCPConfig      `yaml:"mcp,omitempty"     json:"mcp,omitempty"`
	AI              *AIConfig       `yaml:"ai,omitempty"      json:"ai,omitempty"`
}

// TemplateConfig renders a template (inline or from a file) into an output
// target. Templates may contain generation blocks; the step then runs the
// two-pass protocol, delegating each collected entry to the AI tool.
type TemplateConfig struct {
	Source string  `yaml:"source,omitempty" json:"source,omitempty"`
	Inline string  `yaml:"inline,omitempty" json:"inline,omitempty"`
	Output *Output `yaml:"output"           json:"output" jsonschema:"required"`
	// AI supplies generation defaults (model, budget, guardrail) for
	// generation blocks inside the template.
	AI *AIConfig `yaml:"ai,omitempty" json:"ai,omitempty"`
}

// Output describes where and how rendered content lands.
type Output struct {
	Mode   string `yaml:"mode,omitempty"   json:"mode,omitempty" jsonschema:"enum=create,enum=inject,enum=replace"`
	To     string `yaml:"to"               json:"to" jsonschema:"required"`
	Anchor string `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	Before bool   `yaml:"before,omitempty" json:"before,omitempty"`
}

// ActionConfig runs a command through the engine's command executor.
type ActionConfig struct {
	Argv    []string          `yaml:"argv"              json:"argv" jsonschema:"required,minItems=1"`
	Env     map[string]string `yaml:"env,omitempty"     json:"env,omitempty"`
	Capture map[string]string `yaml:"capture,omitempty" json:"capture,omitempty"`
}

// CodemodConfig performs a textual inject/replace against an existing file.
// AST-level modification is an external tool; this is the anchor-based
// textual variant.
type CodemodConfig struct {
	File    string `yaml:"file"             json:"file" jsonschema:"required"`
	Mode    string `yaml:"mode"             json:"mode" jsonschema:"required,enum=inject,enum=replace"`
	Anchor  string `yaml:"anchor"           json:"anchor" jsonschema:"required"`
	Content string `yaml:"content"          json:"content" jsonschema:"required"`
	Before  bool   `yaml:"before,omitempty" json:"before,omitempty"`
}

// RecipeConfig invokes a child recipe inline as a sub-procedure.
type RecipeConfig struct {
	File   string            `yaml:"file"             json:"file" jsonschema:"required"`
	Inputs map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// MCPConfig delegates the step to a tool exposed by an external MCP server.
type MCPConfig struct {
	Server  string            `yaml:"server"            json:"server" jsonschema:"required"`
	Argv    []string          `yaml:"argv,omitempty"    json:"argv,omitempty"`
	Tool    string            `yaml:"tool"              json:"tool" jsonschema:"required"`
	Args    map[string]string `yaml:"args,omitempty"    json:"args,omitempty"`
	Capture map[string]string `yaml:"capture,omitempty" json:"capture,omitempty"`
}

// AIConfig is the declarative contract for a generation step.
type AIConfig struct {
	Prompt         string     `yaml:"prompt,omitempty"          json:"prompt,omitempty"`
	System         string     `yaml:"system,omitempty"          json:"system,omitempty"`
	Output         *Output    `yaml:"output,omitempty"          json:"output,omitempty"`
	Context        []string   `yaml:"context,omitempty"         json:"context,omitempty"`
	Examples       []Example  `yaml:"examples,omitempty"        json:"examples,omitempty"`
	Guardrail      *Guardrail `yaml:"guardrail,omitempty"       json:"guardrail,omitempty"`
	Budget         *Budget    `yaml:"budget,omitempty"          json:"budget,omitempty"`
	Model          string     `yaml:"model,omitempty"           json:"model,omitempty"`
	FallbackModels []string   `yaml:"fallback_models,omitempty" json:"fallback_models,omitempty"`
}

// Example is a worked input/output pair included in prompt assembly.
type Example struct {
	Input  string `yaml:"input"  json:"input" jsonschema:"required"`
	Output string `yaml:"output" json:"output" jsonschema:"required"`
}

// Guardrail governs output validation, retry count, and failure fallback
// for a generation.
type Guardrail struct {
	MaxRetries int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"minimum=0"`
	Validate   string `yaml:"validate,omitempty"    json:"validate,omitempty" jsonschema:"enum=none,enum=non-empty,enum=json,enum=yaml,enum=json-schema,enum=go-template,enum=regex"`
	// Schema holds the JSON Schema document for validate: json-schema.
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	// Pattern holds the regex for validate: regex.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// Expect is an optional expr-lang expression evaluated against the
	// output (bound as "output"); false fails validation.
	Expect    string `yaml:"expect,omitempty"     json:"expect,omitempty"`
	OnFailure string `yaml:"on_failure,omitempty" json:"on_failure,omitempty" jsonschema:"enum=fallback,enum=error"`
	Fallback  string `yaml:"fallback,omitempty"   json:"fallback,omitempty"`
}

// Budget sets token and monetary ceilings enforced before a model call.
type Budget struct {
	MaxTokens  int     `yaml:"max_tokens,omitempty"   json:"max_tokens,omitempty" jsonschema:"minimum=0"`
	MaxCostUSD float64 `yaml:"max_cost_usd,omitempty" json:"max_cost_usd,omitempty" jsonschema:"minimum=0"`
}

// LoadFile reads and parses a recipe YAML file with strict unknown-field
// rejection (yaml.v3 KnownFields). Returns the parsed Recipe or an error.
func LoadFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a recipe from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rc Recipe
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	return &rc, nil
}

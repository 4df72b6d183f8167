package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].action.argv")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a recipe file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules: step-name uniqueness, acyclic graph,
// tool config consistency)
func ValidateFile(path string) (*Recipe, []*ValidationError) {
	rc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return rc, Validate(rc)
}

// Validate runs the semantic and domain phases on an already-decoded recipe.
func Validate(rc *Recipe) []*ValidationError {
	var allErrors []*ValidationError
	allErrors = append(allErrors, validateSemantic(rc)...)
	allErrors = append(allErrors, ValidateDomain(rc)...)
	return allErrors
}

// Errors filters issues down to error-severity entries. Warnings never
// block execution.
func Errors(issues []*ValidationError) []*ValidationError {
	var errs []*ValidationError
	for _, e := range issues {
		if e.Severity == "error" {
			errs = append(errs, e)
		}
	}
	return errs
}

// validateSemantic validates the recipe against the generated JSON Schema.
func validateSemantic(rc *Recipe) []*ValidationError {
	data, err := json.Marshal(rc)
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("generate schema: %v", err),
			Severity: "error",
		}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal schema: %v", err),
			Severity: "error",
		}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("recipe-v1.json", schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("add schema resource: %v", err),
			Severity: "error",
		}}
	}

	sch, err := c.Compile("recipe-v1.json")
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("compile schema: %v", err),
			Severity: "error",
		}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal document: %v", err),
			Severity: "error",
		}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(rc *Recipe) []*ValidationError {
	var errs []*ValidationError

	if rc.APIVersion != "recipe/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", rc.APIVersion, "recipe/v1"),
			Severity: "error",
		})
	}

	if len(rc.Steps) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "steps",
			Message:  "recipe must contain at least one step",
			Severity: "error",
		})
		return errs
	}

	// Step name uniqueness
	seen := make(map[string]int)
	for i, step := range rc.Steps {
		if step.Name == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("steps[%d].name", i),
				Message:  "step has no name",
				Severity: "error",
			})
			continue
		}
		if prev, dup := seen[step.Name]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("steps[%d].name", i),
				Message:  fmt.Sprintf("duplicate step name %q (first defined at steps[%d])", step.Name, prev),
				Severity: "error",
			})
			continue
		}
		seen[step.Name] = i
	}

	// Dependency references must name existing steps
	for i, step := range rc.Steps {
		for _, dep := range step.Needs {
			if _, ok := seen[dep]; !ok {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("steps[%d].needs", i),
					Message:  fmt.Sprintf("step %q needs unknown step %q", step.Name, dep),
					Severity: "error",
				})
			}
			if dep == step.Name {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("steps[%d].needs", i),
					Message:  fmt.Sprintf("step %q depends on itself", step.Name),
					Severity: "error",
				})
			}
		}
	}

	// Cycle detection is mandatory: a cyclic graph is never executed.
	if cycle := FindCycle(rc.Steps); len(cycle) > 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "steps",
			Message:  fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
			Severity: "error",
		})
	}

	// Tool config consistency: the config block must match the tool tag,
	// and exactly one block may be set.
	for i, step := range rc.Steps {
		errs = append(errs, validateStepTool(i, step)...)
	}

	return errs
}

// validateStepTool checks one step's tool tag against its config blocks.
func validateStepTool(i int, step Step) []*ValidationError {
	var errs []*ValidationError
	path := fmt.Sprintf("steps[%d]", i)

	configs := map[string]bool{
		"template": step.Template != nil,
		"action":   step.Action != nil,
		"codemod":  step.Codemod != nil,
		"recipe":   step.Recipe != nil,
		"mcp":      step.MCP != nil,
		"ai":       step.AI != nil,
	}

	var set []string
	for name, present := range configs {
		if present {
			set = append(set, name)
		}
	}
	sort.Strings(set)

	if len(set) > 1 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf("step %q sets multiple tool configs (%s); exactly one is allowed", step.Name, strings.Join(set, ", ")),
			Severity: "error",
		})
	}

	if known, ok := configs[step.Tool]; !ok {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path + ".tool",
			Message:  fmt.Sprintf("unknown tool type %q", step.Tool),
			Severity: "error",
		})
	} else if !known {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf("step %q has tool %q but no %s config", step.Name, step.Tool, step.Tool),
			Severity: "error",
		})
	}

	// Per-tool required parameters beyond what the JSON Schema expresses.
	switch {
	case step.Template != nil:
		if step.Template.Source == "" && step.Template.Inline == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".template",
				Message:  fmt.Sprintf("step %q template needs source or inline", step.Name),
				Severity: "error",
			})
		}
		if step.Template.Source != "" && step.Template.Inline != "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".template",
				Message:  fmt.Sprintf("step %q template sets both source and inline", step.Name),
				Severity: "error",
			})
		}
	case step.AI != nil:
		if step.AI.Prompt == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".ai.prompt",
				Message:  fmt.Sprintf("step %q ai config needs a prompt", step.Name),
				Severity: "error",
			})
		}
		if g := step.AI.Guardrail; g != nil {
			if g.Validate == "json-schema" && g.Schema == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".ai.guardrail.schema",
					Message:  fmt.Sprintf("step %q guardrail validate=json-schema requires schema", step.Name),
					Severity: "error",
				})
			}
			if g.Validate == "regex" {
				if g.Pattern == "" {
					errs = append(errs, &ValidationError{
						Phase:    "domain",
						Path:     path + ".ai.guardrail.pattern",
						Message:  fmt.Sprintf("step %q guardrail validate=regex requires pattern", step.Name),
						Severity: "error",
					})
				} else if _, err := regexp.Compile(g.Pattern); err != nil {
					errs = append(errs, &ValidationError{
						Phase:    "domain",
						Path:     path + ".ai.guardrail.pattern",
						Message:  fmt.Sprintf("invalid regex pattern in step %q: %v", step.Name, err),
						Severity: "error",
					})
				}
			}
			if g.OnFailure == "fallback" && g.Fallback == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".ai.guardrail.fallback",
					Message:  fmt.Sprintf("step %q guardrail on_failure=fallback requires fallback text", step.Name),
					Severity: "warning",
				})
			}
		}
	}

	return errs
}

// FindCycle returns the step names forming a dependency cycle, or nil if
// the graph is acyclic. The returned slice starts and ends with the same
// step so the report reads naturally (a -> b -> a).
func FindCycle(steps []Step) []string {
	needs := make(map[string][]string, len(steps))
	for _, s := range steps {
		needs[s.Name] = s.Needs
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		for _, dep := range needs[name] {
			if _, ok := needs[dep]; !ok {
				continue // unknown dep reported elsewhere
			}
			switch color[dep] {
			case grey:
				// Found a back edge — slice the stack from dep onward.
				for i, n := range stack {
					if n == dep {
						cycle = append(append(cycle, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	// Iterate in declaration order so reports are deterministic.
	for _, s := range steps {
		if color[s.Name] == white {
			if visit(s.Name) {
				return cycle
			}
		}
	}
	return nil
}

// TopoOrder returns step names in a valid execution order. Steps are
// emitted dependency-first; ties preserve declaration order. Returns an
// error if the graph has a cycle (callers should have validated already).
func TopoOrder(steps []Step) ([]string, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	order := make([]string, 0, len(steps))

	for _, s := range steps {
		indegree[s.Name] = len(s.Needs)
		for _, dep := range s.Needs {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	queue := make([]string, 0, len(steps))
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, fmt.Errorf("dependency graph has a cycle (%d of %d steps orderable)", len(order), len(steps))
	}
	return order, nil
}

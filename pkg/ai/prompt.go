package ai

import (
	"bytes"
	"text/template"
)

// DefaultSystemPrompt is sent as the system message when a generation has
// no explicit system instruction. It defines the role and output rules.
const DefaultSystemPrompt = `You are a code generation assistant embedded in a scaffolding engine.
You receive an instruction, optional source-file context, and optional worked examples.

Rules:
1. Emit ONLY the requested artifact. No prose, no explanation, no surrounding commentary.
2. Do NOT wrap the output in a markdown code fence unless the instruction asks for markdown.
3. Match the conventions visible in the provided context files: naming, formatting, idiom.
4. If an output format is declared, the output MUST be syntactically valid in that format.
5. When the instruction is ambiguous, prefer the smallest output that satisfies it.`

// userPromptTemplate assembles the final user message from the rendered
// instruction, collected context, and worked examples.
const userPromptTemplate = `{{ if .TypeHint }}Artifact kind: {{ .TypeHint }}
{{ end }}{{ if .Format }}Output format: {{ .Format }}
{{ end }}## Instruction

{{ .Prompt }}
{{ if .GlobalContext }}
## Shared context

{{ .GlobalContext }}{{ end }}{{ if .Context }}
## Context

{{ .Context }}{{ end }}{{ if .Examples }}
## Examples
{{ range .Examples }}
### Input
{{ .Input }}

### Output
{{ .Output }}
{{ end }}{{ end }}{{ if .Feedback }}
## Previous attempt rejected

Your previous output failed validation:
{{ .Feedback }}

Produce a corrected output that passes. Output only the artifact.
{{ end }}`

var userTemplate = template.Must(template.New("user").Parse(userPromptTemplate))

// promptData holds the data for rendering the user prompt template.
type promptData struct {
	Prompt        string
	TypeHint      string
	Format        string
	Context       string
	GlobalContext string
	Examples      []promptExample
	Feedback      string
}

type promptExample struct {
	Input  string
	Output string
}

// buildUserPrompt renders the user prompt. feedback carries the validation
// failure reason on retry-with-feedback attempts; empty on the first try.
func buildUserPrompt(req *Request, ctxText, globalCtxText, feedback string) (string, error) {
	data := promptData{
		Prompt:        req.Prompt,
		TypeHint:      req.TypeHint,
		Format:        req.Format,
		Context:       ctxText,
		GlobalContext: globalCtxText,
		Feedback:      feedback,
	}
	for _, ex := range req.Examples {
		data.Examples = append(data.Examples, promptExample{Input: ex.Input, Output: ex.Output})
	}

	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

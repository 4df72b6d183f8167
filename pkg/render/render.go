// Package render implements the two-pass templating protocol for
// generation blocks. A template is rendered twice with different
// collaborator state: once in collect mode, where each generation block
// registers an Entry and renders to nothing, and once in resolve mode,
// where each block substitutes its answer from the AnswerMap.
//
// Generation blocks are template-func pipelines:
//
//	{{ genblock "user-model" "Generate a Go struct for a user"
//	   | context "models/*.go" | format "go" | emit }}
//
// Each pipeline builds its own Block value, so per-block working state is
// scoped to that block's render frame and never leaks across blocks.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/weftlabs/weft/pkg/schema"
)

// Block is the builder value flowing through a generation-block pipeline.
// Chained funcs return copies, never mutate shared state.
type Block struct {
	Key      string
	Prompt   string
	Contexts []string
	Format   string
	TypeHint string
	Examples []schema.Example
}

// Mode selects which pass a render performs.
type Mode int

const (
	// Collect harvests generation blocks; block regions render to nothing.
	Collect Mode = iota
	// Resolve substitutes answers; no model is ever invoked.
	Resolve
)

// Renderer renders templates in collect or resolve mode. The zero value
// is usable.
type Renderer struct {
	// Funcs are extra template functions merged over the built-in helper
	// set (name collisions are the caller's responsibility).
	Funcs template.FuncMap
}

// helperFuncs are the plain string helpers available in every template.
type frame struct {
	mode      Mode
	source    string
	collector *Collector
	answers   AnswerMap
}

// Collect renders text in collect mode. Generation blocks register entries
// into col; everything else renders normally and is returned.
func (r *Renderer) Collect(name, text string, vars map[string]interface{}, col *Collector) (string, error) {
	if col == nil {
		return "", fmt.Errorf("collect render of %q: nil collector", name)
	}
	return r.render(name, text, vars, &frame{mode: Collect, source: name, collector: col})
}

// Resolve renders text in resolve mode, substituting answers in place of
// generation blocks. A key with no answer emits an empty string so partial
// generation failures degrade gracefully.
func (r *Renderer) Resolve(name, text string, vars map[string]interface{}, answers AnswerMap) (string, error) {
	return r.render(name, text, vars, &frame{mode: Resolve, source: name, answers: answers})
}

func (r *Renderer) render(name, text string, vars map[string]interface{}, fr *frame) (string, error) {
	funcs := helperFuncs()
	for k, v := range genFuncs(fr) {
		funcs[k] = v
	}
	for k, v := range r.Funcs {
		funcs[k] = v
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.String(), nil
}

// genFuncs binds the generation-block pipeline funcs to one render frame.
func genFuncs(fr *frame) template.FuncMap {
	return template.FuncMap{
		// genblock starts a generation block with its key and prompt.
		"genblock": func(key, prompt string) (*Block, error) {
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("genblock: empty key")
			}
			return &Block{Key: key, Prompt: prompt}, nil
		},
		// context appends a file glob to the block's context list.
		"context": func(glob string, b *Block) *Block {
			nb := b.clone()
			nb.Contexts = append(nb.Contexts, glob)
			return nb
		},
		// format declares the expected output format (go, json, yaml, ...).
		"format": func(format string, b *Block) *Block {
			nb := b.clone()
			nb.Format = format
			return nb
		},
		// typehint declares what kind of artifact the block produces.
		"typehint": func(hint string, b *Block) *Block {
			nb := b.clone()
			nb.TypeHint = hint
			return nb
		},
		// example appends a worked input/output pair.
		"example": func(input, output string, b *Block) *Block {
			nb := b.clone()
			nb.Examples = append(nb.Examples, schema.Example{Input: input, Output: output})
			return nb
		},
		// emit terminates the pipeline: collect mode registers the entry
		// and renders nothing; resolve mode substitutes the answer.
		"emit": func(b *Block) string {
			switch fr.mode {
			case Collect:
				fr.collector.Add(&Entry{
					Key:      b.Key,
					Prompt:   b.Prompt,
					Contexts: b.Contexts,
					Format:   b.Format,
					TypeHint: b.TypeHint,
					Examples: b.Examples,
					Source:   fr.source,
				})
				return ""
			default:
				return fr.answers[b.Key]
			}
		},
		// aicontext declares a template-level context glob shared by every
		// generation block. Collected once per collect pass.
		"aicontext": func(glob string) string {
			if fr.mode == Collect {
				fr.collector.AddGlobalContext(glob)
			}
			return ""
		},
	}
}

func (b *Block) clone() *Block {
	nb := *b
	nb.Contexts = append([]string(nil), b.Contexts...)
	nb.Examples = append([]schema.Example(nil), b.Examples...)
	return &nb
}

// helperFuncs supplements the built-in Go template functions with the
// plain string helpers recipe authors expect.
func helperFuncs() template.FuncMap {
	return template.FuncMap{
		"hasPrefix":  strings.HasPrefix,
		"hasSuffix":  strings.HasSuffix,
		"contains":   strings.Contains,
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"title":      titleCase,
		"split":      strings.Split,
		"join":       strings.Join,
		"replace":    strings.ReplaceAll,
		"trimPrefix": strings.TrimPrefix,
		"trimSuffix": strings.TrimSuffix,
		"trim":       strings.TrimSpace,
	}
}

// titleCase upper-cases the first rune only, which is what generated
// identifiers usually want.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

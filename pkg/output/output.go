// Package output defines the in-memory file operation plan that tools
// produce. Actual disk I/O (including dry-run diffing and transactional
// multi-file writes) belongs to the FileWriter collaborator.
package output

import (
	"fmt"
	"strings"
	"sync"
)

// Mode describes how a file operation applies its content.
type Mode string

const (
	// ModeCreate writes a new file (or overwrites an existing one).
	ModeCreate Mode = "create"
	// ModeInject inserts content into an existing file at an anchor.
	ModeInject Mode = "inject"
	// ModeReplace replaces a region of an existing file.
	ModeReplace Mode = "replace"
)

// FileOp is a single pending file operation. Tools emit FileOps; the
// engine aggregates them into the step result and hands them to the
// configured FileWriter after the step succeeds.
type FileOp struct {
	Mode    Mode   `json:"mode" yaml:"mode"`
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`

	// Anchor locates the injection/replacement point. For ModeInject it is
	// a literal line to insert before/after; for ModeReplace it is the
	// pattern whose match is replaced. Ignored for ModeCreate.
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	// Before inserts the content before the anchor instead of after it.
	Before bool `json:"before,omitempty" yaml:"before,omitempty"`
}

// Validate checks the operation is internally consistent.
func (op FileOp) Validate() error {
	if op.Path == "" {
		return fmt.Errorf("file op has no path")
	}
	switch op.Mode {
	case ModeCreate:
	case ModeInject, ModeReplace:
		if op.Anchor == "" {
			return fmt.Errorf("%s op for %q has no anchor", op.Mode, op.Path)
		}
	default:
		return fmt.Errorf("unknown file op mode %q", op.Mode)
	}
	return nil
}

// FileWriter applies file operations to a destination. The engine core
// never touches the disk directly; callers may supply a real writer, a
// dry-run differ, or the in-memory writer below.
type FileWriter interface {
	Apply(ops []FileOp) error
}

// MemoryWriter collects applied operations in memory. Used by tests and
// by dry-run mode.
type MemoryWriter struct {
	mu    sync.Mutex
	files map[string]string
	ops   []FileOp
}

// NewMemoryWriter creates an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{files: make(map[string]string)}
}

// Apply records the operations and maintains a virtual file view so that
// inject/replace ops can be exercised without a filesystem.
func (w *MemoryWriter) Apply(ops []FileOp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
		switch op.Mode {
		case ModeCreate:
			w.files[op.Path] = op.Content
		case ModeInject:
			existing, ok := w.files[op.Path]
			if !ok {
				return fmt.Errorf("inject into %q: file does not exist", op.Path)
			}
			injected, err := injectAt(existing, op.Anchor, op.Content, op.Before)
			if err != nil {
				return fmt.Errorf("inject into %q: %w", op.Path, err)
			}
			w.files[op.Path] = injected
		case ModeReplace:
			existing, ok := w.files[op.Path]
			if !ok {
				return fmt.Errorf("replace in %q: file does not exist", op.Path)
			}
			if !strings.Contains(existing, op.Anchor) {
				return fmt.Errorf("replace in %q: anchor %q not found", op.Path, op.Anchor)
			}
			w.files[op.Path] = strings.Replace(existing, op.Anchor, op.Content, 1)
		}
		w.ops = append(w.ops, op)
	}
	return nil
}

// File returns the current virtual content of path.
func (w *MemoryWriter) File(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.files[path]
	return s, ok
}

// Ops returns a copy of every operation applied so far.
func (w *MemoryWriter) Ops() []FileOp {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FileOp, len(w.ops))
	copy(out, w.ops)
	return out
}

// injectAt inserts content on a new line before or after the first line
// containing the anchor.
func injectAt(existing, anchor, content string, before bool) (string, error) {
	lines := strings.Split(existing, "\n")
	for i, line := range lines {
		if !strings.Contains(line, anchor) {
			continue
		}
		var out []string
		if before {
			out = append(out, lines[:i]...)
			out = append(out, content)
			out = append(out, lines[i:]...)
		} else {
			out = append(out, lines[:i+1]...)
			out = append(out, content)
			out = append(out, lines[i+1:]...)
		}
		return strings.Join(out, "\n"), nil
	}
	return "", fmt.Errorf("anchor %q not found", anchor)
}

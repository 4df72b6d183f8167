package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DiskWriter applies file operations to the real filesystem under a root
// directory. Relative op paths resolve against the root; create ops make
// parent directories as needed. Writes are applied op by op; a failed op
// stops the batch with everything before it already on disk.
type DiskWriter struct {
	mu   sync.Mutex
	root string
}

// NewDiskWriter creates a writer rooted at dir. An empty dir means op
// paths are used as-is.
func NewDiskWriter(dir string) *DiskWriter {
	return &DiskWriter{root: dir}
}

func (w *DiskWriter) Apply(ops []FileOp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
		if err := w.apply(op); err != nil {
			return err
		}
	}
	return nil
}

func (w *DiskWriter) apply(op FileOp) error {
	path := op.Path
	if w.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}

	switch op.Mode {
	case ModeCreate:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %q: %w", op.Path, err)
		}
		if err := os.WriteFile(path, []byte(op.Content), 0o644); err != nil {
			return fmt.Errorf("create %q: %w", op.Path, err)
		}
	case ModeInject:
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("inject into %q: %w", op.Path, err)
		}
		injected, err := injectAt(string(b), op.Anchor, op.Content, op.Before)
		if err != nil {
			return fmt.Errorf("inject into %q: %w", op.Path, err)
		}
		if err := os.WriteFile(path, []byte(injected), 0o644); err != nil {
			return fmt.Errorf("inject into %q: %w", op.Path, err)
		}
	case ModeReplace:
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("replace in %q: %w", op.Path, err)
		}
		existing := string(b)
		if !strings.Contains(existing, op.Anchor) {
			return fmt.Errorf("replace in %q: anchor %q not found", op.Path, op.Anchor)
		}
		replaced := strings.Replace(existing, op.Anchor, op.Content, 1)
		if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
			return fmt.Errorf("replace in %q: %w", op.Path, err)
		}
	}
	return nil
}

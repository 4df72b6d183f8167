package ai

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContextFragment is one file's verbatim content bundled into a prompt.
type ContextFragment struct {
	Path    string
	Content string
}

// CollectContext reads the files matched by the explicit glob list and
// returns them verbatim as prompt context. Context is exactly what is
// listed: no static analysis, no import-graph walking, no inference. A
// glob that matches nothing contributes no context and is not an error.
func CollectContext(root string, globs []string) ([]ContextFragment, error) {
	var fragments []ContextFragment
	seen := make(map[string]bool)

	for _, glob := range globs {
		pattern := glob
		if root != "" && !filepath.IsAbs(glob) {
			pattern = filepath.Join(root, glob)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad context glob %q: %w", glob, err)
		}
		sort.Strings(matches)
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read context file %q: %w", path, err)
			}
			rel := path
			if root != "" {
				if r, err := filepath.Rel(root, path); err == nil {
					rel = r
				}
			}
			fragments = append(fragments, ContextFragment{Path: rel, Content: string(data)})
		}
	}
	return fragments, nil
}

// formatFragments concatenates fragments into a single prompt section,
// each file delimited by its path.
func formatFragments(fragments []ContextFragment) string {
	if len(fragments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&b, "--- file: %s ---\n", f.Path)
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

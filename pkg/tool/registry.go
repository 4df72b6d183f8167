package tool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrToolNotFound reports a step referencing a tool kind with no
// registration. It fails the referencing step, not the whole process.
var ErrToolNotFound = errors.New("tool not found")

// Registry maps tool type tags to instances. Registration is explicit;
// registering a tag twice replaces the earlier tool and logs a warning
// through the run context logger at builtin-registration time.
type Registry struct {
	mu    sync.Mutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its kind. The last registration for a kind
// wins, which lets callers override builtins.
func (r *Registry) Register(t Tool) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.tools[t.Kind()]
	r.tools[t.Kind()] = t
	return replaced
}

// Resolve returns the tool registered for kind.
func (r *Registry) Resolve(kind string) (Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[kind]
	if !ok {
		return nil, fmt.Errorf("no tool registered for kind %q: %w", kind, ErrToolNotFound)
	}
	return t, nil
}

// Kinds returns the registered tool tags.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.tools))
	for k := range r.tools {
		kinds = append(kinds, k)
	}
	return kinds
}

// RegisterBuiltins installs the standard tool set.
func RegisterBuiltins(r *Registry) {
	r.Register(&TemplateTool{})
	r.Register(&ActionTool{})
	r.Register(&CodemodTool{})
	r.Register(&RecipeTool{})
	r.Register(&MCPTool{})
	r.Register(&AITool{})
}

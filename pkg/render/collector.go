package render

import (
	"log/slog"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// Entry is a generation block harvested during a collect-mode render. The
// Key is the only identity used to join an entry to its eventual answer.
type Entry struct {
	Key      string
	Prompt   string
	Contexts []string
	Format   string
	TypeHint string
	Examples []schema.Example
	Source   string // originating template name
}

// AnswerMap maps a collection key to generated text. It is produced
// between the collect and resolve passes and treated as read-only input
// by the resolve pass.
type AnswerMap map[string]string

// Collector accumulates generation entries during collect-mode renders.
// It is caller-owned and passed through the render call chain, never
// ambient process state, so concurrent or repeated renders cannot
// cross-contaminate.
type Collector struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	globals []string
	logger  *slog.Logger
}

// NewCollector creates an empty collector. logger may be nil.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Add registers an entry under its key. Duplicate keys within one collect
// pass overwrite — last write wins — with a warning so recipe authors can
// spot unintended key reuse.
func (c *Collector) Add(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, dup := c.entries[e.Key]; dup {
		c.logger.Warn("duplicate generation key, last write wins",
			"key", e.Key, "previous_source", prev.Source, "source", e.Source)
	} else {
		c.order = append(c.order, e.Key)
	}
	c.entries[e.Key] = e
}

// AddGlobalContext records a template-level context declaration made
// outside any generation block. It applies to every entry's prompt
// assembly, independent of per-block context.
func (c *Collector) AddGlobalContext(glob string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = append(c.globals, glob)
}

// Entries returns collected entries in first-registration order.
func (c *Collector) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.entries[key])
	}
	return out
}

// GlobalContexts returns the template-level context globs collected so far.
func (c *Collector) GlobalContexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.globals))
	copy(out, c.globals)
	return out
}

// Len reports how many distinct keys have been collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

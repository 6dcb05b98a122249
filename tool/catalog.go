package tool

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/model"
)

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	Logger logging.Logger
}

// Catalog maps tool names to registered tools. Names are matched
// case-insensitively. Registration normally happens once at startup; lookups
// are safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]*Tool // keyed by lower-cased name
	logger logging.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(optFns ...func(o *CatalogOptions)) *Catalog {
	opts := CatalogOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Catalog{tools: map[string]*Tool{}, logger: opts.Logger}
}

// Register adds a tool. Definitions with an incompatible signature are
// skipped and logged at debug level; any other problem, including a
// duplicate name, is returned.
func (c *Catalog) Register(def Definition) error {
	t, err := newTool(def)
	if err != nil {
		if errors.Is(err, ErrIncompatible) {
			c.logger.Debug("tool.register.skipped", "tool", def.Name(), "reason", err.Error())
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(t.name)
	if existing, ok := c.tools[key]; ok {
		return fmt.Errorf("%w: %s (already registered as %s)", ErrDuplicateTool, t.name, existing.name)
	}
	c.tools[key] = t
	c.logger.Debug("tool.register.done", "tool", t.name, "params", len(t.params))
	return nil
}

// RegisterAll registers every definition, stopping at the first error.
func (c *Catalog) RegisterAll(defs ...Definition) error {
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is like RegisterAll but panics on error.
func (c *Catalog) MustRegister(defs ...Definition) *Catalog {
	if err := c.RegisterAll(defs...); err != nil {
		panic(err)
	}
	return c
}

// Lookup resolves a tool by name, ignoring case.
func (c *Catalog) Lookup(name string) (*Tool, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := strings.ToLower(name)
	t, ok := c.tools[key]
	if !ok && strings.Contains(key, "__") {
		// Provider-side form of a scoped name, see model.WireToolName.
		t, ok = c.tools[strings.ReplaceAll(key, "__", ".")]
	}
	return t, ok
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Tools returns all tools sorted by name for deterministic order.
func (c *Catalog) Tools() []*Tool {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Tool) int { return strings.Compare(a.name, b.name) })
	return out
}

// Definitions returns the provider request form of every tool, sorted by name.
func (c *Catalog) Definitions() []model.ToolDefinition {
	tools := c.Tools()
	out := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = t.Definition()
	}
	return out
}

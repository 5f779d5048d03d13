package capability

import (
	"fmt"
	"sync"
)

// Catalog is the static capability catalog: a fixed mapping from capability
// identifier to configuration and handler. Entries are registered during
// process start-up; afterwards only enablement may be toggled. All methods
// are safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*catalogEntry
	order   []string // registration order, for stable exports
}

type catalogEntry struct {
	config  Config
	handler Handler
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*catalogEntry)}
}

// Register adds a capability to the catalog. The config ID must match the
// handler name and be unique; the config category must be valid. When the
// config omits a schema it is filled from the handler's Parameters().
func (c *Catalog) Register(cfg Config, h Handler) error {
	if h == nil {
		return fmt.Errorf("catalog: nil handler for %q", cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = h.Name()
	}
	if cfg.ID != h.Name() {
		return fmt.Errorf("catalog: config id %q does not match handler name %q", cfg.ID, h.Name())
	}
	if !cfg.Category.Valid() {
		return fmt.Errorf("catalog: invalid category %q for %q", cfg.Category, cfg.ID)
	}
	if cfg.Schema == nil {
		cfg.Schema = h.Parameters()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[cfg.ID]; exists {
		return fmt.Errorf("catalog: capability %q already registered", cfg.ID)
	}
	c.entries[cfg.ID] = &catalogEntry{config: cfg, handler: h}
	c.order = append(c.order, cfg.ID)
	return nil
}

// Get returns the config and handler for id. The bool reports presence.
func (c *Catalog) Get(id string) (Config, Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return Config{}, nil, false
	}
	return e.config, e.handler, true
}

// SetEnabled flips the enablement flag of a registered capability.
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return NewNotFound(id)
	}
	e.config.Enabled = enabled
	return nil
}

// IDs returns the registered capability identifiers in registration order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of registered capabilities.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

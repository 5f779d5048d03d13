package capability

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Definition is the pure-data schema document describing one capability to the
// LLM function-calling loop. It is regenerated on demand so it reflects both
// static entries and currently-registered dynamic capabilities.
type Definition struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Description string         `json:"description"`
	Category    Category       `json:"category"`
	Enabled     bool           `json:"enabled"`
	Actions     []string       `json:"actions,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Definitions exports the catalog as a schema document in registration order.
// Disabled capabilities are included with Enabled=false so the caller can
// choose whether to advertise them.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		out = append(out, Definition{
			Name:        e.config.ID,
			DisplayName: e.config.DisplayName,
			Description: e.handler.Description(),
			Category:    e.config.Category,
			Enabled:     e.config.Enabled,
			Actions:     e.handler.Actions(),
			Parameters:  e.config.Schema,
		})
	}
	return out
}

// MCPTools exports enabled catalog entries as MCP tool descriptors, allowing
// the catalog to be served through a Model Context Protocol server.
func (c *Catalog) MCPTools() []*mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*mcp.Tool, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		if !e.config.Enabled {
			continue
		}
		out = append(out, &mcp.Tool{
			Name:        e.config.ID,
			Title:       e.config.DisplayName,
			Description: e.handler.Description(),
			InputSchema: e.config.Schema,
		})
	}
	return out
}

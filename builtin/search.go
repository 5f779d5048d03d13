package builtin

import (
	"context"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// SearchResult is one hit returned by a SearchProvider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchProvider performs web searches.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearchHandler exposes the search capability.
type SearchHandler struct {
	provider SearchProvider
}

// NewSearchHandler wraps a SearchProvider.
func NewSearchHandler(p SearchProvider) *SearchHandler { return &SearchHandler{provider: p} }

// Name implements capability.Handler.
func (h *SearchHandler) Name() string { return "search" }

// Description implements capability.Handler.
func (h *SearchHandler) Description() string {
	return "Search the web and return titles, URLs and snippets."
}

// Category implements capability.Handler.
func (h *SearchHandler) Category() capability.Category { return capability.CategoryExternalAPI }

// Actions implements capability.Handler. Search is single-operation.
func (h *SearchHandler) Actions() []string { return nil }

// Parameters implements capability.Handler.
func (h *SearchHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
			"limit": map[string]any{"type": "integer", "description": "Max results, default 5"},
		},
		"required": []string{"query"},
	}
}

// Execute implements capability.Handler.
func (h *SearchHandler) Execute(ictx *core.InvokeContext, _ string, params map[string]any) (any, error) {
	query, err := capability.RequireString(h.Name(), params, "query")
	if err != nil {
		return nil, err
	}
	limit := capability.OptionalInt(params, "limit", 5)
	return h.provider.Search(ictx.Context(), query, limit)
}

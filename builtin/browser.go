package builtin

import (
	"context"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// BrowserDriver delegates to an external headless-browser automation service.
type BrowserDriver interface {
	// Navigate loads the URL and returns the page title.
	Navigate(ctx context.Context, url string) (string, error)
	// Extract returns the text content matching the CSS selector on the
	// currently loaded page.
	Extract(ctx context.Context, selector string) (string, error)
	// Screenshot captures the current page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}

// BrowserHandler exposes the browser capability as a pass-through to an
// external delegated executor.
type BrowserHandler struct {
	driver BrowserDriver
}

// NewBrowserHandler wraps a BrowserDriver.
func NewBrowserHandler(d BrowserDriver) *BrowserHandler { return &BrowserHandler{driver: d} }

// Name implements capability.Handler.
func (h *BrowserHandler) Name() string { return "browser" }

// Description implements capability.Handler.
func (h *BrowserHandler) Description() string {
	return "Drive a headless browser: navigate to a page, extract content, take screenshots."
}

// Category implements capability.Handler.
func (h *BrowserHandler) Category() capability.Category { return capability.CategoryDelegatedBrowser }

// Actions implements capability.Handler.
func (h *BrowserHandler) Actions() []string { return []string{"navigate", "extract", "screenshot"} }

// Parameters implements capability.Handler.
func (h *BrowserHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"navigate", "extract", "screenshot"},
			},
			"url":      map[string]any{"type": "string", "description": "Page URL (navigate)"},
			"selector": map[string]any{"type": "string", "description": "CSS selector (extract)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler.
func (h *BrowserHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "navigate":
		url, err := capability.RequireString(h.Name(), params, "url")
		if err != nil {
			return nil, err
		}
		title, err := h.driver.Navigate(ctx, url)
		if err != nil {
			return nil, err
		}
		return map[string]any{"title": title}, nil
	case "extract":
		selector, err := capability.RequireString(h.Name(), params, "selector")
		if err != nil {
			return nil, err
		}
		text, err := h.driver.Extract(ctx, selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	case "screenshot":
		png, err := h.driver.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"png_bytes": len(png)}, nil
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}

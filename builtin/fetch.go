package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// MaxFetchBodySize caps how much of a response body is returned to the model.
const MaxFetchBodySize = 64 * 1024

// FetchRequest is one outbound HTTP request.
type FetchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResponse is the trimmed result of one outbound HTTP request.
type FetchResponse struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Fetcher performs outbound HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// HTTPFetcher is the net/http reference Fetcher.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client uses a 10s-timeout default.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher. Only http and https schemes are allowed.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("invalid url '%s': %w", req.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return FetchResponse{}, fmt.Errorf("unsupported url scheme '%s'; only http and https are allowed", parsed.Scheme)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return FetchResponse{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return FetchResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBodySize+1))
	if err != nil {
		return FetchResponse{}, err
	}
	out := FetchResponse{StatusCode: resp.StatusCode, Body: string(raw)}
	if len(raw) > MaxFetchBodySize {
		out.Body = string(raw[:MaxFetchBodySize])
		out.Truncated = true
	}
	return out, nil
}

// FetchHandler exposes the fetch capability.
type FetchHandler struct {
	fetcher Fetcher
}

// NewFetchHandler wraps a Fetcher.
func NewFetchHandler(f Fetcher) *FetchHandler { return &FetchHandler{fetcher: f} }

// Name implements capability.Handler.
func (h *FetchHandler) Name() string { return "fetch" }

// Description implements capability.Handler.
func (h *FetchHandler) Description() string {
	return "Perform an outbound HTTP request and return status and body."
}

// Category implements capability.Handler.
func (h *FetchHandler) Category() capability.Category { return capability.CategoryExternalAPI }

// Actions implements capability.Handler. Fetch is single-operation; any
// action is accepted.
func (h *FetchHandler) Actions() []string { return nil }

// Parameters implements capability.Handler.
func (h *FetchHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "description": "Absolute http(s) URL"},
			"method":  map[string]any{"type": "string", "description": "HTTP method, default GET"},
			"headers": map[string]any{"type": "object", "description": "Request headers"},
			"body":    map[string]any{"type": "string", "description": "Request body"},
		},
		"required": []string{"url"},
	}
}

// Execute implements capability.Handler.
func (h *FetchHandler) Execute(ictx *core.InvokeContext, _ string, params map[string]any) (any, error) {
	rawURL, err := capability.RequireString(h.Name(), params, "url")
	if err != nil {
		return nil, err
	}
	req := FetchRequest{
		URL:    rawURL,
		Method: capability.OptionalString(params, "method", http.MethodGet),
		Body:   capability.OptionalString(params, "body", ""),
	}
	if hdrs, ok := params["headers"].(map[string]any); ok {
		req.Headers = make(map[string]string, len(hdrs))
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Headers[k] = s
			}
		}
	}
	return h.fetcher.Fetch(ictx.Context(), req)
}

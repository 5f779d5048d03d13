package model

import (
	"context"
	"fmt"
	"sync"
)

// Message roles. The transcript alternates user/assistant with tool results
// attached to RoleTool messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by Response.FinishReason.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// ToolCall is a capability invocation proposed by the model. Arguments arrive
// already decoded; provider adapters own the JSON handling.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolDefinition declaratively exposes a callable capability to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Message is one transcript entry. Assistant messages may carry proposed tool
// calls; tool messages carry the result for the call identified by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Request captures one normalized model round-trip input.
type Request struct {
	Instructions string           `json:"instructions"` // system prompt
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's reply to one Request: either a final text answer or
// a batch of tool calls to execute before the next round-trip.
type Response struct {
	Text         string      `json:"text,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the sub-task runner needs to drive a
// bounded function-calling loop.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a scripted in-memory Model for tests and examples. Generate
// pops queued responses in order; once the script is exhausted it returns a
// canned final answer. It records every request it receives.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	script   []Response
	fallback string
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:     Info{Name: name, Provider: "mock", SupportsTools: true},
		fallback: "done",
	}
}

// Enqueue appends a scripted response.
func (m *MockModel) Enqueue(resp Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resp)
	return m
}

// EnqueueToolCalls appends a scripted response proposing the given calls.
func (m *MockModel) EnqueueToolCalls(calls ...ToolCall) *MockModel {
	return m.Enqueue(Response{ToolCalls: calls, FinishReason: FinishToolCalls})
}

// EnqueueText appends a scripted final answer.
func (m *MockModel) EnqueueText(text string) *MockModel {
	return m.Enqueue(Response{Text: text, FinishReason: FinishStop})
}

// SetFallback changes the answer returned once the script is exhausted.
func (m *MockModel) SetFallback(text string) { m.fallback = text }

// Requests returns a copy of every request Generate received, in order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return &resp, nil
	}
	return &Response{Text: m.fallback, FinishReason: FinishStop}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// ErrModel is a Model that always fails; useful for failure-path tests.
type ErrModel struct{ Err error }

// Generate implements Model.
func (e ErrModel) Generate(context.Context, Request) (*Response, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return nil, fmt.Errorf("model unavailable")
}

// Info implements Model.
func (e ErrModel) Info() Info { return Info{Name: "error", Provider: "mock"} }

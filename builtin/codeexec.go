package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// Sandbox execution limits, matching the isolated code-executor service:
// execution is stateless, time-boxed, and output is size-capped.
const (
	MaxExecutionTime = 30 * time.Second
	MaxOutputSize    = 10 * 1024 // bytes
	MaxCodeSize      = 50_000    // bytes
)

// Sandbox executes untrusted code in isolation. The same contract backs the
// dynamic registry's generated capabilities and the code_execute handler.
type Sandbox interface {
	Run(ctx context.Context, code string, params map[string]any) (any, error)
}

// LimitedSandbox wraps a Sandbox with the service limits: oversized code is
// rejected up front, execution is bounded by MaxExecutionTime, and string
// output beyond MaxOutputSize is truncated with a marker.
type LimitedSandbox struct {
	inner   Sandbox
	timeout time.Duration
}

// NewLimitedSandbox wraps inner with limit enforcement.
func NewLimitedSandbox(inner Sandbox) *LimitedSandbox {
	return &LimitedSandbox{inner: inner, timeout: MaxExecutionTime}
}

// Run implements Sandbox.
func (s *LimitedSandbox) Run(ctx context.Context, code string, params map[string]any) (any, error) {
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("code size %d exceeds the %d byte limit", len(code), MaxCodeSize)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := s.inner.Run(runCtx, code, params)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return truncateOutput(out.data), nil
	case <-runCtx.Done():
		return nil, fmt.Errorf("code execution timeout after %dms", s.timeout.Milliseconds())
	}
}

// UnavailableSandbox is a Sandbox placeholder for deployments without a code
// executor. Every run fails in-band; capability management still works.
type UnavailableSandbox struct{}

// Run implements Sandbox.
func (UnavailableSandbox) Run(context.Context, string, map[string]any) (any, error) {
	return nil, fmt.Errorf("no sandbox executor is attached to this deployment")
}

// truncateOutput caps string output at MaxOutputSize with a trailing note.
func truncateOutput(data any) any {
	s, ok := data.(string)
	if !ok || len(s) <= MaxOutputSize {
		return data
	}
	return s[:MaxOutputSize] + fmt.Sprintf("\n[output truncated to %d bytes]", MaxOutputSize)
}

// CodeExecuteHandler exposes the code_execute capability.
type CodeExecuteHandler struct {
	sandbox Sandbox
}

// NewCodeExecuteHandler wraps a Sandbox with limit enforcement.
func NewCodeExecuteHandler(sandbox Sandbox) *CodeExecuteHandler {
	return &CodeExecuteHandler{sandbox: NewLimitedSandbox(sandbox)}
}

// Name implements capability.Handler.
func (h *CodeExecuteHandler) Name() string { return "code_execute" }

// Description implements capability.Handler.
func (h *CodeExecuteHandler) Description() string {
	return "Run a short snippet of code in an isolated, stateless sandbox and return its output."
}

// Category implements capability.Handler.
func (h *CodeExecuteHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler. Single-operation.
func (h *CodeExecuteHandler) Actions() []string { return nil }

// Parameters implements capability.Handler.
func (h *CodeExecuteHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":   map[string]any{"type": "string", "description": "Code to execute"},
			"params": map[string]any{"type": "object", "description": "Values exposed to the code"},
		},
		"required": []string{"code"},
	}
}

// Execute implements capability.Handler.
func (h *CodeExecuteHandler) Execute(ictx *core.InvokeContext, _ string, params map[string]any) (any, error) {
	code, err := capability.RequireString(h.Name(), params, "code")
	if err != nil {
		return nil, err
	}
	runParams, _ := params["params"].(map[string]any)
	return h.sandbox.Run(ictx.Context(), code, runParams)
}

package engine

import (
	"context"

	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/memory"
)

// HookType names a lifecycle point in the engine's execution pipeline.
type HookType string

const (
	// HookBeforeCall runs before a call is dispatched. A hook error vetoes
	// the call; the engine returns a failed result without dispatching.
	HookBeforeCall HookType = "before_call"

	// HookAfterCall runs after a call settles. Hook errors are logged and
	// never alter the result.
	HookAfterCall HookType = "after_call"

	// HookBeforePersist runs before a sanitized record is written to
	// memory. A hook error aborts persistence.
	HookBeforePersist HookType = "before_persist"
)

// HookContext carries the state visible to a hook. Fields are populated
// according to the hook type: Request is always set for call hooks, Result
// only for HookAfterCall, Record only for HookBeforePersist.
type HookContext struct {
	UserID  string
	FlowID  string
	Request *core.CallRequest
	Result  *core.CallResult
	Record  *memory.Record
}

// Hook is an execution lifecycle extension point. Implementations must be
// fast (they run synchronously on the dispatch path) and must not panic.
type Hook interface {
	Type() HookType
	Execute(ctx context.Context, hctx *HookContext) error
}

// FunctionHook wraps a plain function as a Hook.
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hctx *HookContext) error
}

// NewFunctionHook creates a Hook from a function.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hctx *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the lifecycle point this hook handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hctx *HookContext) error {
	return h.fn(ctx, hctx)
}

// hookManager routes hooks by type. Registration happens at engine
// construction; afterwards the manager is read-only and safe for concurrent
// use.
type hookManager struct {
	hooks map[HookType][]Hook
}

func newHookManager(hooks []Hook) *hookManager {
	m := &hookManager{hooks: make(map[HookType][]Hook)}
	for _, h := range hooks {
		m.hooks[h.Type()] = append(m.hooks[h.Type()], h)
	}
	return m
}

// run executes the hooks registered for hookType in registration order,
// stopping at the first error.
func (m *hookManager) run(ctx context.Context, hookType HookType, hctx *HookContext) error {
	for _, h := range m.hooks[hookType] {
		if err := h.Execute(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}

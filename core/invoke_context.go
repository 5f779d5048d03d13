package core

import (
	"context"

	"github.com/valet-ai/valet/logging"
)

// InvokeContext provides a constrained, auditable surface for capability
// handlers invoked by the dispatcher. It carries the caller's context for
// cancellation, the identifiers correlating the invocation (user, flow, call)
// and a logger pre-tagged with those identifiers.
//
// One InvokeContext is constructed per dispatch and must not be retained past
// the handler's return.
type InvokeContext struct {
	ctx    context.Context
	userID string
	flowID string
	callID string
	logger logging.Logger
}

// NewInvokeContext constructs an invocation context bound to the given
// cancellation context and correlation identifiers.
func NewInvokeContext(ctx context.Context, userID, flowID, callID string, logger logging.Logger) *InvokeContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &InvokeContext{
		ctx:    ctx,
		userID: userID,
		flowID: flowID,
		callID: callID,
		logger: logging.With(logger, "user_id", userID, "flow_id", flowID, "call_id", callID),
	}
}

// Context returns the cancellation context associated with the invocation.
// Handlers performing I/O must honor it.
func (ic *InvokeContext) Context() context.Context { return ic.ctx }

// UserID returns the user on whose behalf the capability runs.
func (ic *InvokeContext) UserID() string { return ic.userID }

// FlowID returns the conversation flow the invocation belongs to.
func (ic *InvokeContext) FlowID() string { return ic.flowID }

// CallID returns the unique identifier of this call.
func (ic *InvokeContext) CallID() string { return ic.callID }

// Logger returns the logger tagged with the invocation identifiers.
func (ic *InvokeContext) Logger() logging.Logger { return ic.logger }

// WithContext returns a copy of the invocation context bound to a different
// cancellation context. Used by the dispatcher to apply per-capability
// deadlines without rebuilding correlation state.
func (ic *InvokeContext) WithContext(ctx context.Context) *InvokeContext {
	clone := *ic
	clone.ctx = ctx
	return &clone
}

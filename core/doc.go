// Package core contains the shared value types of the valet orchestration
// engine: the call request/result pair exchanged with the LLM function-calling
// loop, the per-invocation context handed to capability handlers, and the
// iteration limiter used to bound sub-task loops.
//
// Types in this package are transient and owned by the call stack of a single
// dispatch; nothing here holds cross-call mutable state.
package core

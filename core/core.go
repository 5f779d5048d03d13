package core

import "time"

// CallRequest identifies one desired capability invocation. It is created by
// the caller (the LLM function-calling loop), immutable, and consumed once.
type CallRequest struct {
	CapabilityID string         `json:"capability_id"`
	Action       string         `json:"action"`
	Params       map[string]any `json:"params,omitempty"`
}

// CallResult is the outcome of exactly one CallRequest. It is created once per
// request and never mutated after return.
type CallResult struct {
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	CapabilityUsed  string `json:"capability_used"`
}

// OK builds a successful result for the given capability and duration.
func OK(data any, capability string, dur time.Duration) CallResult {
	return CallResult{
		Success:         true,
		Data:            data,
		ExecutionTimeMs: dur.Milliseconds(),
		CapabilityUsed:  capability,
	}
}

// Fail builds a failed result carrying the error message. A nil err yields an
// empty message; callers should always pass the causing error.
func Fail(err error, capability string, dur time.Duration) CallResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return CallResult{
		Success:         false,
		Error:           msg,
		ExecutionTimeMs: dur.Milliseconds(),
		CapabilityUsed:  capability,
	}
}

package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes classifying capability failures. Every failure that crosses the
// dispatcher boundary carries one of these codes inside a *Error.
const (
	// CodeNotFound marks an unknown capability or action.
	CodeNotFound = "NOT_FOUND"
	// CodeDisabled marks a capability that is present but turned off.
	CodeDisabled = "DISABLED"
	// CodeValidation marks a missing or malformed required parameter.
	CodeValidation = "VALIDATION_ERROR"
	// CodeTimeout marks an individual or global timeout.
	CodeTimeout = "TIMEOUT"
	// CodeExecution marks a handler that returned or raised an error.
	CodeExecution = "EXECUTION_ERROR"
	// CodeRegistry marks a generated-capability invocation failure.
	CodeRegistry = "REGISTRY_ERROR"
	// CodeSpawn marks a sub-task that violated a spawn constraint.
	CodeSpawn = "SPAWN_ERROR"
	// CodeRateLimited marks a call rejected by the per-user rate budget.
	CodeRateLimited = "RATE_LIMITED"
)

// Error represents a classified capability failure.
type Error struct {
	Capability string `json:"capability"`        // Capability that failed
	Message    string `json:"message"`           // Error message
	Code       string `json:"code"`              // Error code for categorization
	Details    any    `json:"details,omitempty"` // Additional error details
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

// NewError creates an Error with the specified details.
func NewError(capability, message, code string) *Error {
	return &Error{Capability: capability, Message: message, Code: code}
}

// NewNotFound reports an unresolved capability identifier.
func NewNotFound(id string) *Error {
	return &Error{
		Capability: id,
		Message:    fmt.Sprintf("capability '%s' not found", id),
		Code:       CodeNotFound,
	}
}

// NewDisabled reports a capability that resolved but is turned off.
func NewDisabled(id string) *Error {
	return &Error{
		Capability: id,
		Message:    fmt.Sprintf("capability '%s' is disabled", id),
		Code:       CodeDisabled,
	}
}

// NewUnknownAction reports an action the capability does not recognize. The
// message names the unknown action and enumerates the valid ones so the
// calling LLM can self-correct.
func NewUnknownAction(capability, action string, valid []string) *Error {
	msg := fmt.Sprintf("unknown action '%s' for capability '%s'", action, capability)
	if len(valid) > 0 {
		msg += fmt.Sprintf("; valid actions: %s", strings.Join(valid, ", "))
	}
	return &Error{Capability: capability, Message: msg, Code: CodeNotFound}
}

// NewTimeout reports an elapsed deadline. scope is "individual" or "global".
func NewTimeout(capability, scope string, limit time.Duration) *Error {
	return &Error{
		Capability: capability,
		Message:    fmt.Sprintf("%s timeout after %dms", scope, limit.Milliseconds()),
		Code:       CodeTimeout,
	}
}

// NewRateLimited reports a call rejected by the per-user rate budget.
func NewRateLimited(capability string, limit int) *Error {
	return &Error{
		Capability: capability,
		Message:    fmt.Sprintf("rate limit exceeded for capability '%s' (%d calls per minute); wait before retrying", capability, limit),
		Code:       CodeRateLimited,
	}
}

// Classify wraps an arbitrary error into a *Error. Existing *Error values are
// returned unchanged; everything else becomes an EXECUTION_ERROR.
func Classify(capability string, err error) *Error {
	var capErr *Error
	if errors.As(err, &capErr) {
		return capErr
	}
	return &Error{Capability: capability, Message: err.Error(), Code: CodeExecution}
}

// CodeOf extracts the classification code from an error, or CodeExecution when
// the error carries none.
func CodeOf(err error) string {
	var capErr *Error
	if errors.As(err, &capErr) && capErr.Code != "" {
		return capErr.Code
	}
	return CodeExecution
}

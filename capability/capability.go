// Package capability implements the capability subsystem of valet: the
// addressable units of functionality the dispatcher can invoke on behalf of
// an LLM function-calling loop. It defines the Handler interface implemented
// by every capability, the static Catalog fixed at process start, the shared
// error taxonomy, and the schema export consumed by the model loop.
package capability

import (
	"fmt"
	"strings"

	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/internal/util"
)

// Handler is the interface implemented by every capability.
//
// Handlers should:
//   - Provide clear, descriptive names and descriptions (snake_case names)
//   - Enumerate their supported actions and declare a parameter schema
//   - Return *Error values for failures so the dispatcher can classify them
//   - Be safe for concurrent use; the batch executor invokes handlers from
//     multiple goroutines
type Handler interface {
	// Name returns the unique capability identifier.
	Name() string

	// Description returns a short description provided to the LLM so it can
	// decide when to invoke the capability.
	Description() string

	// Category returns the routing category of the capability.
	Category() Category

	// Actions enumerates the action names the capability accepts.
	Actions() []string

	// Parameters returns a JSON-schema-like map describing accepted
	// parameters, keyed per action or flat for single-action capabilities.
	Parameters() map[string]any

	// Execute runs one action. Errors are converted to failed CallResults at
	// the dispatcher boundary; handlers never need to build CallResults.
	Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error)
}

// ValidationError re-exports the util validation error so handler packages do
// not import internal/util directly.
type ValidationError = util.ValidationError

// ValidateParams validates params against a JSON-schema-like map, returning a
// *Error with code VALIDATION_ERROR on mismatch. The message is corrective:
// the consumer is an LLM expected to retry with fixed parameters.
func ValidateParams(capability string, params map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if err := util.ValidateParameters(params, schema); err != nil {
		return &Error{
			Capability: capability,
			Message:    err.Error(),
			Code:       CodeValidation,
			Details:    err,
		}
	}
	return nil
}

// RequireString extracts a required string parameter, failing with a
// corrective validation error naming the missing field.
func RequireString(capability string, params map[string]any, field string) (string, error) {
	v, ok := params[field]
	if !ok {
		return "", &Error{
			Capability: capability,
			Message:    fmt.Sprintf("required parameter '%s' is missing; provide a string value and retry", field),
			Code:       CodeValidation,
		}
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", &Error{
			Capability: capability,
			Message:    fmt.Sprintf("parameter '%s' must be a non-empty string, got %T", field, v),
			Code:       CodeValidation,
		}
	}
	return s, nil
}

// OptionalString extracts an optional string parameter, returning def when absent.
func OptionalString(params map[string]any, field, def string) string {
	if v, ok := params[field].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionalInt extracts an optional integer parameter tolerating JSON float64
// decoding, returning def when absent or malformed.
func OptionalInt(params map[string]any, field string, def int) int {
	switch v := params[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// OptionalBool extracts an optional boolean parameter, returning def when absent.
func OptionalBool(params map[string]any, field string, def bool) bool {
	if v, ok := params[field].(bool); ok {
		return v
	}
	return def
}

// Package subtask implements bounded delegate execution loops: a sub-task
// gets a task string, a restricted capability set and an iteration budget,
// and drives a model function-calling loop through the dispatcher until it
// produces a final answer, runs out of iterations, or times out.
//
// Delegation is one level deep by construction: the capability set handed to
// a sub-task is materialized into a private dispatch view that structurally
// excludes the spawn capability, so a sub-task cannot spawn another.
package subtask

import "time"

// SpawnCapabilityID is the catalog id of the capability that spawns
// sub-tasks. It must never appear in an allowed capability set.
const SpawnCapabilityID = "spawn_subtask"

// Iteration bounds. MaxIterationsCap is a hard ceiling; requests above it are
// clamped, not rejected.
const (
	DefaultMaxIterations = 10
	MaxIterationsCap     = 15
	DefaultTimeout       = 2 * time.Minute
)

// Prompt modes. PromptModeFull includes capability descriptions in the
// system prompt; PromptModeMinimal names them only.
const (
	PromptModeFull    = "full"
	PromptModeMinimal = "minimal"
)

// SpawnRequest describes one sub-task delegation. ParentContext is the only
// parent state a sub-task ever sees; it is copied in at spawn time.
type SpawnRequest struct {
	Task                string   `json:"task"`
	TaskDescription     string   `json:"task_description,omitempty"`
	AllowedCapabilities []string `json:"allowed_capabilities"`
	MaxIterations       int      `json:"max_iterations,omitempty"`
	PromptMode          string   `json:"prompt_mode,omitempty"`
	TimeoutMs           int      `json:"timeout_ms,omitempty"`
	ParentContext       string   `json:"parent_context,omitempty"`
	ParentFlowID        string   `json:"parent_flow_id,omitempty"`
}

// Result is the outcome of one sub-task run.
type Result struct {
	Success          bool     `json:"success"`
	Result           string   `json:"result,omitempty"`
	CapabilitiesUsed []string `json:"capabilities_used,omitempty"`
	Iterations       int      `json:"iterations"`
	ExecutionTimeMs  int64    `json:"execution_time_ms"`
	FlowID           string   `json:"flow_id"`
	Error            string   `json:"error,omitempty"`
}

// State is the lifecycle phase of a sub-task.
type State string

// Sub-task lifecycle states.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Status is the externally observable progress of one sub-task, queryable by
// id and parent flow id.
type Status struct {
	ID           string    `json:"id"`
	ParentFlowID string    `json:"parent_flow_id,omitempty"`
	Task         string    `json:"task"`
	State        State     `json:"state"`
	Iterations   int       `json:"iterations"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Template is a named spawn preset: a fixed allowed set and iteration budget
// under a stable id.
type Template struct {
	ID                  string   `json:"id"`
	Description         string   `json:"description,omitempty"`
	AllowedCapabilities []string `json:"allowed_capabilities"`
	MaxIterations       int      `json:"max_iterations,omitempty"`
	TimeoutMs           int      `json:"timeout_ms,omitempty"`
	PromptMode          string   `json:"prompt_mode,omitempty"`
}

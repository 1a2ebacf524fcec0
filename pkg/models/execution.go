// Package models provides the domain types shared across the orchestrator core.
package models

import "time"

// ExecutionStatus is the closed set of states an Execution can be in.
// Exhaustive handling is required at every switch site; adding a variant
// is a breaking change.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is one of the three terminal states.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies why an execution failed, matching the error
// taxonomy kinds (not concrete Go error types).
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = ""
	ErrorCategoryInput      ErrorCategory = "input"
	ErrorCategoryPolicy     ErrorCategory = "policy"
	ErrorCategoryBudget     ErrorCategory = "budget"
	ErrorCategoryTransient  ErrorCategory = "transient"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryInternal   ErrorCategory = "internal"
)

// Execution is the top-level unit of work: one end-to-end processing of a
// single user input. The engine exclusively owns mutability; every other
// component holds either a read-only snapshot or just the ID.
type Execution struct {
	ID        string          `json:"id"`
	SessionKey string         `json:"session_key"`
	Channel   string          `json:"channel"`
	InputText string          `json:"input_text"`
	CreatedAt time.Time       `json:"created_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Output    string          `json:"output,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`

	IterationCount int `json:"iteration_count"`
	TokensUsed     int `json:"tokens_used"`

	Stats RunStats `json:"stats"`
}

// ExecutionResult is the outcome of one inbound Execute call (§6): the
// wire-facing shape returned to the caller, distinct from the engine's
// internal Execution record — a caller never sees iteration-by-iteration
// state, only the final projection.
type ExecutionResult struct {
	ID            string          `json:"id"`
	Status        ExecutionStatus `json:"status"`
	Output        string          `json:"output,omitempty"`
	ErrorCategory ErrorCategory   `json:"error_category,omitempty"`
	Error         string          `json:"error,omitempty"`
	ToolCallsMade int             `json:"tool_calls_made"`
	TokensUsed    int             `json:"tokens_used"`
}

// RunStats is a read-only, cumulative summary of an execution, kept for
// observability. Never round-tripped through the session store.
type RunStats struct {
	Iterations    int           `json:"iterations,omitempty"`
	ToolCalls     int           `json:"tool_calls,omitempty"`
	ToolWallTime  time.Duration `json:"tool_wall_time,omitempty"`
	ModelWallTime time.Duration `json:"model_wall_time,omitempty"`
	InputTokens   int           `json:"input_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`
}

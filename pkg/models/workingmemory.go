package models

import (
	"encoding/json"
	"time"
)

// WorkingMemory is per-execution scratch state. It is never persisted and
// is dropped when the execution terminates.
type WorkingMemory struct {
	ExecutionID string                     `json:"execution_id,omitempty"`
	Variables   map[string]json.RawMessage `json:"variables,omitempty"`
	ToolHistory []ToolExecutionRecord      `json:"tool_history,omitempty"`
	CurrentStep int                        `json:"current_step"`
	TotalSteps  int                        `json:"total_steps"`
}

// ToolExecutionRecord records one tool invocation for the duration of an
// execution, mirroring what the event log durably records but kept here
// for fast in-process lookups (e.g. "last tool result").
type ToolExecutionRecord struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWorkingMemory creates an empty working memory for an execution.
func NewWorkingMemory(executionID string) *WorkingMemory {
	return &WorkingMemory{
		ExecutionID: executionID,
		Variables:   make(map[string]json.RawMessage),
	}
}

// Set stores a variable.
func (w *WorkingMemory) Set(key string, value json.RawMessage) {
	if w.Variables == nil {
		w.Variables = make(map[string]json.RawMessage)
	}
	w.Variables[key] = value
}

// Get retrieves a variable.
func (w *WorkingMemory) Get(key string) (json.RawMessage, bool) {
	v, ok := w.Variables[key]
	return v, ok
}

// RecordToolExecution appends a tool execution record and advances nothing
// else — step counters are the engine's responsibility.
func (w *WorkingMemory) RecordToolExecution(rec ToolExecutionRecord) {
	w.ToolHistory = append(w.ToolHistory, rec)
}

// LastToolExecution returns the most recent tool execution, if any.
func (w *WorkingMemory) LastToolExecution() (ToolExecutionRecord, bool) {
	if len(w.ToolHistory) == 0 {
		return ToolExecutionRecord{}, false
	}
	return w.ToolHistory[len(w.ToolHistory)-1], true
}

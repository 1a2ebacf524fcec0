package models

import "time"

// EventKind identifies the kind of an Event. A closed enumeration per
// spec: exhaustive handling is required at every match site.
type EventKind string

const (
	EventUserInput          EventKind = "user_input"
	EventPlanningStarted    EventKind = "planning_started"
	EventLlmRequest         EventKind = "llm_request"
	EventLlmResponse        EventKind = "llm_response"
	EventToolCall           EventKind = "tool_call"
	EventToolResult         EventKind = "tool_result"
	EventApprovalRequested  EventKind = "approval_requested"
	EventApprovalResolved   EventKind = "approval_resolved"
	EventChatDelta          EventKind = "chat_delta"
	EventExecutionCompleted EventKind = "execution_completed"
	EventExecutionFailed    EventKind = "execution_failed"
	EventExecutionCancelled EventKind = "execution_cancelled"
	EventError              EventKind = "error"
)

// Event is an immutable record appended to the event log and/or published
// on the event bus. Sequence is strictly monotonic per execution, starting
// at 0, with no gaps — see internal/eventlog for the invariant check.
//
// Exactly one of the payload pointers below is populated for a given Kind;
// the rest are nil. This mirrors the teacher's AgentEvent discriminated
// union rather than a single "any" payload field, so payload access stays
// type-safe at call sites.
type Event struct {
	ExecutionID string        `json:"execution_id"`
	Sequence    uint64        `json:"sequence"`
	Kind        EventKind     `json:"kind"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	Text      *TextPayload      `json:"text,omitempty"`
	Llm       *LlmPayload       `json:"llm,omitempty"`
	Tool      *ToolPayload      `json:"tool,omitempty"`
	Approval  *ApprovalPayload  `json:"approval,omitempty"`
	Terminal  *TerminalPayload  `json:"terminal,omitempty"`
	ErrorInfo *ErrorPayload     `json:"error_info,omitempty"`
	Delta     *ChatDeltaPayload `json:"delta,omitempty"`
}

// TextPayload carries plain human-readable text, used for UserInput.
type TextPayload struct {
	Content string `json:"content"`
}

// LlmPayload carries planner request/response metadata.
type LlmPayload struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	ToolCallIDs  []string `json:"tool_call_ids,omitempty"`
}

// ToolPayload carries ToolCall/ToolResult event fields.
type ToolPayload struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Success bool   `json:"success,omitempty"`
	Output  string `json:"output,omitempty"`
}

// ApprovalPayload carries ApprovalRequested/ApprovalResolved event fields.
type ApprovalPayload struct {
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name,omitempty"`
	State     ApprovalState  `json:"state,omitempty"`
	ResolverID string        `json:"resolver_id,omitempty"`
}

// TerminalPayload carries the final status of an execution.
type TerminalPayload struct {
	Status ExecutionStatus `json:"status"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ErrorPayload standardizes error reporting in the event stream.
type ErrorPayload struct {
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"category,omitempty"`
	Retriable bool          `json:"retriable,omitempty"`
}

// ChatDeltaPayload carries a streamed partial model response. ChatDelta
// events are bus-only (never logged) — see DESIGN.md open question (iii).
type ChatDeltaPayload struct {
	Delta   string `json:"delta"`
	IsFinal bool   `json:"is_final"`
}

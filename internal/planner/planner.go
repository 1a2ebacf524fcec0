// Package planner defines the engine's outbound planner capability (§6):
// a narrow text-completion-with-tools interface the engine drives once per
// iteration, independent of any particular model vendor.
package planner

import (
	"context"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Turn is one entry in the conversation handed to the planner. Unlike
// models.Message (the durably persisted session history, which per §8/S2
// omits intermediate tool round-trips), a Turn carries the tool calls and
// results the planner itself produced and consumed within the current
// execution — the engine keeps these only for the lifetime of one
// execution's planning loop.
type Turn struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// Request is one planner call: the full conversation plus the tool
// definitions currently on offer.
type Request struct {
	Messages    []Turn
	Tools       []models.ToolDefinition
	MaxTokens   int
	Temperature float64
	ToolChoice  models.ToolChoice
}

// Usage reports token consumption for one planner call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the planner's answer for one iteration. IsTextOnly reports
// whether the engine should treat the iteration as final (no tool calls).
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        Usage
	Model        string
}

// IsTextOnly reports whether the response carries no tool calls, meaning
// the engine's execution loop should complete.
func (r Response) IsTextOnly() bool {
	return len(r.ToolCalls) == 0
}

// Planner maps a conversation plus tool definitions to the next step.
// Implementations must be safe for concurrent use — the engine may run
// several executions against the same Planner simultaneously under
// Concurrent(N) admission.
type Planner interface {
	CompleteWithTools(ctx context.Context, req Request) (Response, error)
}

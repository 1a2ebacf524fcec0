package engine

import (
	"context"
	"time"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// appendEvent stamps e's sequence/timestamp, appends it to the event log
// (if configured) and publishes it to the event bus (if configured).
// Per eventlog's own doc comment, log-append failures are advisory only —
// logged at error level, never escalated into execution failure; §4.2
// durability is for audit, not correctness.
func (e *Engine) appendEvent(ctx context.Context, execID string, seq *uint64, ev models.Event) {
	ev.ExecutionID = execID
	ev.Sequence = *seq
	ev.Timestamp = time.Now()
	*seq++

	if e.log != nil {
		if err := e.log.Append(ctx, ev); err != nil {
			e.logger.Error("event log append failed", "execution_id", execID, "kind", ev.Kind, "error", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) emitUserInput(ctx context.Context, execID string, seq *uint64, text string) {
	e.appendEvent(ctx, execID, seq, models.Event{Kind: models.EventUserInput, Text: &models.TextPayload{Content: text}})
}

func (e *Engine) emitPlanningStarted(ctx context.Context, execID string, seq *uint64) {
	e.appendEvent(ctx, execID, seq, models.Event{Kind: models.EventPlanningStarted})
}

func (e *Engine) emitLlmRequest(ctx context.Context, execID string, seq *uint64) {
	e.appendEvent(ctx, execID, seq, models.Event{Kind: models.EventLlmRequest})
}

func (e *Engine) emitLlmResponse(ctx context.Context, execID string, seq *uint64, model, finishReason string, inputTokens, outputTokens int, toolCallIDs []string) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind: models.EventLlmResponse,
		Llm: &models.LlmPayload{
			Model:        model,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			FinishReason: finishReason,
			ToolCallIDs:  toolCallIDs,
		},
	})
}

func (e *Engine) emitToolCall(ctx context.Context, execID string, seq *uint64, callID, name string) {
	e.appendEvent(ctx, execID, seq, models.Event{Kind: models.EventToolCall, Tool: &models.ToolPayload{CallID: callID, Name: name}})
}

func (e *Engine) emitToolResult(ctx context.Context, execID string, seq *uint64, callID, name string, success bool, output string) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind: models.EventToolResult,
		Tool: &models.ToolPayload{CallID: callID, Name: name, Success: success, Output: output},
	})
}

func (e *Engine) emitApprovalRequested(ctx context.Context, execID string, seq *uint64, req models.ApprovalRequest) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind:     models.EventApprovalRequested,
		Approval: &models.ApprovalPayload{RequestID: req.RequestID, ToolName: req.ToolName, State: req.State},
	})
}

func (e *Engine) emitApprovalResolved(ctx context.Context, execID string, seq *uint64, req models.ApprovalRequest) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind:     models.EventApprovalResolved,
		Approval: &models.ApprovalPayload{RequestID: req.RequestID, ToolName: req.ToolName, State: req.State, ResolverID: req.ResolverID},
	})
}

func (e *Engine) emitError(ctx context.Context, execID string, seq *uint64, category models.ErrorCategory, message string, retriable bool) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind:      models.EventError,
		ErrorInfo: &models.ErrorPayload{Message: message, Category: category, Retriable: retriable},
	})
}

func (e *Engine) emitTerminal(ctx context.Context, execID string, seq *uint64, kind models.EventKind, status models.ExecutionStatus, output, errMsg string) {
	e.appendEvent(ctx, execID, seq, models.Event{
		Kind:     kind,
		Terminal: &models.TerminalPayload{Status: status, Output: output, Error: errMsg},
	})
}

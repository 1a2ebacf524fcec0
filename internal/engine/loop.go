package engine

import (
	"context"
	"errors"
	"time"

	otrace "go.opentelemetry.io/otel/trace"

	"github.com/first-fluke/cratos-sub006/internal/approval"
	"github.com/first-fluke/cratos-sub006/internal/eventlog"
	"github.com/first-fluke/cratos-sub006/internal/memory"
	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/internal/steering"
	"github.com/first-fluke/cratos-sub006/internal/toolrunner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// riskAtOrAbove orders risk levels low < medium < high, mirroring
// toolrunner's unexported comparison of the same name. Duplicated rather
// than exported from toolrunner solely for this one comparison — not
// worth widening that package's API surface for it.
func riskAtOrAbove(risk, threshold models.RiskLevel) bool {
	rank := func(r models.RiskLevel) int {
		switch r {
		case models.RiskHigh:
			return 2
		case models.RiskMedium:
			return 1
		default:
			return 0
		}
	}
	return rank(risk) >= rank(threshold)
}

// plannerProvider returns a label for metrics/tracing, deferring to the
// planner's own Provider method when it exposes one.
func (e *Engine) plannerProvider() string {
	if named, ok := e.planner.(interface{ Provider() string }); ok {
		return named.Provider()
	}
	return "unknown"
}

// toolOptionsWithApproval returns a copy of e.cfg.ToolOptions whose Policy
// additionally allows toolName outright. Used to re-invoke the runner for
// a call the engine has already cleared (by approval or skill
// pre-authorization) so toolrunner's own policy.Evaluate doesn't demand
// confirmation a second time.
func (e *Engine) toolOptionsWithApproval(toolName string) toolrunner.Options {
	opts := e.cfg.ToolOptions
	policy := opts.Policy
	policy.Allow = append(append([]string{}, policy.Allow...), toolName)
	opts.Policy = policy
	return opts
}

// requestApproval submits an approval request for call, emits the
// ApprovalRequested/ApprovalResolved lifecycle events, and records
// approval metrics. timedOut reports that ctx was cancelled (or the
// approval TTL lapsed) before a decision arrived, in which case result is
// the execution's cancellation result and approved is meaningless.
func (e *Engine) requestApproval(ctx context.Context, execID string, seq *uint64, call models.ToolCall, reason string) (approved bool, result models.ExecutionResult, timedOut bool) {
	approvalStart := time.Now()
	requestID, future := e.approvals.Request(approval.Spec{
		ExecutionID:      execID,
		ToolName:         call.ToolName,
		ArgumentsPreview: string(call.Arguments),
		Reason:           reason,
		TTL:              e.cfg.ApprovalTTL,
	})
	if snapshot, ok := e.approvals.Get(requestID); ok {
		e.emitApprovalRequested(ctx, execID, seq, snapshot)
	}
	req, waitErr := future.Wait(ctx)
	if waitErr != nil {
		if e.metrics != nil {
			e.metrics.RecordApproval("expired", time.Since(approvalStart).Seconds())
		}
		return false, e.cancel(ctx, execID, seq, "execution timed out awaiting approval"), true
	}
	e.emitApprovalResolved(ctx, execID, seq, req)
	approved = req.State == models.ApprovalApproved
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	if e.metrics != nil {
		e.metrics.RecordApproval(outcome, time.Since(approvalStart).Seconds())
	}
	return approved, models.ExecutionResult{}, false
}

// run executes §4.6.2's loop for one (possibly Collect-merged) admitted
// request. inputs holds every caller's text folded into this execution,
// in arrival order; in.UserID/InputText are the owner's own, already
// included as the first or only entry of inputs.
func (e *Engine) run(ctx context.Context, in ExecuteInput, inputs []mergedInput) (result models.ExecutionResult) {
	execID := e.newID()
	var seq uint64
	execStart := time.Now()

	if e.metrics != nil {
		e.metrics.ExecutionStarted()
	}
	var execSpan otrace.Span
	if e.tracer != nil {
		ctx, execSpan = e.tracer.TraceExecution(ctx, in.Channel, in.SessionKey)
	}
	defer func() {
		if execSpan != nil {
			if result.Status != models.ExecutionCompleted {
				e.tracer.RecordError(execSpan, errors.New(result.Error))
			}
			execSpan.End()
		}
		if e.metrics != nil {
			e.metrics.ExecutionFinished(in.Channel, string(result.Status), time.Since(execStart).Seconds())
		}
	}()

	if e.cfg.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.WallClock)
		defer cancel()
	}

	if e.log != nil {
		if err := e.log.CreateExecution(ctx, eventlog.ExecutionMeta{ExecutionID: execID, SessionKey: in.SessionKey, Channel: in.Channel}); err != nil {
			e.logger.Error("event log create execution failed", "execution_id", execID, "error", err)
		}
	}

	_, ch := e.steering.Open(execID)
	defer e.steering.Close(execID)
	state := steering.NewState(ch)

	now := time.Now()
	session, err := e.memory.Load(ctx, in.SessionKey)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			session = &models.SessionContext{SessionKey: in.SessionKey}
		} else {
			e.emitUserInput(ctx, execID, &seq, in.InputText)
			return e.fail(ctx, execID, &seq, models.ErrorCategoryInternal, "failed to load session: "+err.Error())
		}
	}

	e.emitUserInput(ctx, execID, &seq, in.InputText)

	for _, m := range inputs {
		session.Messages = append(session.Messages, models.Message{Role: models.RoleUser, Content: m.Text, CallerID: m.CallerID, CreatedAt: now})
	}

	var systemHint string
	skillTools := make(map[string]bool)
	if e.skills != nil {
		if match, _ := e.skills.RouteBest(in.InputText); match != nil {
			systemHint = match.Hint
			for _, name := range match.Tools {
				skillTools[name] = true
			}
		}
	}

	tokens := newTokenCounter(e.cfg.TokenBudget)
	var liveTurns []planner.Turn
	toolCallsMade := 0

	toolDefs := e.tools.Definitions()

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		if outcome := state.Poll(""); outcome.Aborted {
			return e.cancel(ctx, execID, &seq, "aborted by steering")
		}
		if ctx.Err() != nil {
			return e.cancel(ctx, execID, &seq, "execution timed out")
		}

		e.emitPlanningStarted(ctx, execID, &seq)
		e.emitLlmRequest(ctx, execID, &seq)

		turns := e.packer.Pack(session, systemHint, "", liveTurns)

		plannerCtx := ctx
		var plannerSpan otrace.Span
		if e.tracer != nil {
			plannerCtx, plannerSpan = e.tracer.TraceLLMRequest(ctx, e.plannerProvider(), "")
		}
		plannerStart := time.Now()
		resp, err := e.planner.CompleteWithTools(plannerCtx, planner.Request{Messages: turns, Tools: toolDefs})
		if plannerSpan != nil {
			if err != nil {
				e.tracer.RecordError(plannerSpan, err)
			}
			plannerSpan.End()
		}
		if e.metrics != nil {
			status, model := "success", ""
			if err != nil {
				status = "error"
			} else {
				model = resp.Model
			}
			e.metrics.RecordPlannerRequest(e.plannerProvider(), model, status, time.Since(plannerStart).Seconds(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.cancel(ctx, execID, &seq, "execution timed out")
			}
			return e.fail(ctx, execID, &seq, models.ErrorCategoryTransient, "planner call failed: "+err.Error())
		}

		var toolCallIDs []string
		for _, tc := range resp.ToolCalls {
			toolCallIDs = append(toolCallIDs, tc.CallID)
		}
		e.emitLlmResponse(ctx, execID, &seq, resp.Model, resp.FinishReason, resp.Usage.InputTokens, resp.Usage.OutputTokens, toolCallIDs)

		// A response that arrives after the wall clock already expired is
		// logged above for audit (the call was made and billed) but never
		// acted on: no further planner calls, no session mutation, no tool
		// execution.
		if ctx.Err() != nil {
			return e.cancel(ctx, execID, &seq, "execution timed out")
		}

		if err := tokens.add(resp.Usage.TotalTokens); err != nil {
			return e.failBudget(ctx, execID, &seq, err.Error())
		}

		if resp.IsTextOnly() {
			session.AppendAssistant(resp.Content, time.Now())
			if saveErr := e.memory.Save(ctx, session); saveErr != nil {
				e.logger.Error("memory save failed after completion", "execution_id", execID, "error", saveErr)
			}
			return e.complete(ctx, execID, &seq, resp.Content, toolCallsMade, tokens.total())
		}

		assistantTurn := planner.Turn{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		var toolResults []models.ToolResult

		for _, call := range resp.ToolCalls {
			outcome := state.Poll(call.CallID)
			if outcome.Aborted {
				return e.cancel(ctx, execID, &seq, "aborted by steering")
			}
			if outcome.SkipCallID == call.CallID {
				toolResult := models.ToolResult{CallID: call.CallID, Success: false, Error: "skipped by steering"}
				toolResults = append(toolResults, toolResult)
				continue
			}

			toolCallsMade++
			e.emitToolCall(ctx, execID, &seq, call.CallID, call.ToolName)

			def, _, found := e.tools.Lookup(call.ToolName)
			risk := models.RiskLow
			if found {
				risk = def.Definition.Risk
			}

			// A skill match's Tools are treated as pre-authorized for this
			// execution: the engine's own threshold gate and the runner's
			// policy re-check are both bypassed for them.
			preAuthorized := skillTools[call.ToolName]

			if e.approvals != nil && !preAuthorized && riskAtOrAbove(risk, e.cfg.ApprovalThreshold) {
				approved, cancelResult, timedOut := e.requestApproval(ctx, execID, &seq, call, "tool risk at or above approval threshold")
				if timedOut {
					return cancelResult
				}
				if !approved {
					toolResult := models.ToolResult{CallID: call.CallID, Success: false, Error: "tool call denied by approval policy"}
					toolResults = append(toolResults, toolResult)
					e.emitToolResult(ctx, execID, &seq, call.CallID, call.ToolName, false, "")
					continue
				}
				preAuthorized = true
			}

			toolCtx := ctx
			var toolSpan otrace.Span
			if e.tracer != nil {
				toolCtx, toolSpan = e.tracer.TraceToolExecution(ctx, call.ToolName)
			}
			toolStart := time.Now()
			toolOpts := e.cfg.ToolOptions
			if preAuthorized {
				toolOpts = e.toolOptionsWithApproval(call.ToolName)
			}
			invocationResult := e.executor.Execute(toolCtx, call.ToolName, call.Arguments, toolOpts)

			// §4.5 step 3: the runner's own policy can independently demand
			// confirmation (its RiskThreshold need not match
			// Config.ApprovalThreshold above) — route that back through the
			// Approval Manager too, and only re-invoke the runner, with the
			// tool pre-authorized, once it is granted.
			if invocationResult.Outcome == toolrunner.OutcomeRequiresApproval && e.approvals != nil {
				reason := invocationResult.Reason
				if reason == "" {
					reason = "tool policy requires approval"
				}
				approved, cancelResult, timedOut := e.requestApproval(ctx, execID, &seq, call, reason)
				if timedOut {
					if toolSpan != nil {
						toolSpan.End()
					}
					return cancelResult
				}
				if approved {
					invocationResult = e.executor.Execute(toolCtx, call.ToolName, call.Arguments, e.toolOptionsWithApproval(call.ToolName))
				} else {
					invocationResult = toolrunner.Result{Outcome: toolrunner.OutcomePermissionDenied, Success: false, Error: "tool call denied by approval policy"}
				}
			}

			toolResult := toolrunner.ToToolResult(call.CallID, invocationResult)
			if toolSpan != nil {
				if !toolResult.Success {
					e.tracer.RecordError(toolSpan, errors.New(toolResult.Error))
				}
				toolSpan.End()
			}
			if e.metrics != nil {
				status := "success"
				if !toolResult.Success {
					status = "error"
				}
				e.metrics.RecordToolExecution(call.ToolName, status, time.Since(toolStart).Seconds())
			}
			toolResults = append(toolResults, toolResult)
			e.emitToolResult(ctx, execID, &seq, call.CallID, call.ToolName, toolResult.Success, toolResult.Output)
		}

		assistantTurn.ToolResults = toolResults
		liveTurns = append(liveTurns, assistantTurn)

		for _, ut := range state.TakePendingUserText() {
			session.AppendUser(ut.Content, time.Now())
		}
	}

	return e.failIterations(ctx, execID, &seq, tokens.total(), toolCallsMade)
}

func (e *Engine) complete(ctx context.Context, execID string, seq *uint64, output string, toolCallsMade, tokensUsed int) models.ExecutionResult {
	e.emitTerminal(ctx, execID, seq, models.EventExecutionCompleted, models.ExecutionCompleted, output, "")
	if e.log != nil {
		if err := e.log.UpdateStatus(ctx, execID, models.ExecutionCompleted, output); err != nil {
			e.logger.Error("event log update status failed", "execution_id", execID, "error", err)
		}
	}
	return models.ExecutionResult{ID: execID, Status: models.ExecutionCompleted, Output: output, ToolCallsMade: toolCallsMade, TokensUsed: tokensUsed}
}

func (e *Engine) fail(ctx context.Context, execID string, seq *uint64, category models.ErrorCategory, message string) models.ExecutionResult {
	e.emitError(ctx, execID, seq, category, message, false)
	e.emitTerminal(ctx, execID, seq, models.EventExecutionFailed, models.ExecutionFailed, "", message)
	if e.log != nil {
		if err := e.log.UpdateStatus(ctx, execID, models.ExecutionFailed, ""); err != nil {
			e.logger.Error("event log update status failed", "execution_id", execID, "error", err)
		}
	}
	return models.ExecutionResult{ID: execID, Status: models.ExecutionFailed, ErrorCategory: category, Error: message}
}

func (e *Engine) failBudget(ctx context.Context, execID string, seq *uint64, message string) models.ExecutionResult {
	return e.fail(ctx, execID, seq, models.ErrorCategoryBudget, message)
}

func (e *Engine) failIterations(ctx context.Context, execID string, seq *uint64, tokensUsed, toolCallsMade int) models.ExecutionResult {
	result := e.fail(ctx, execID, seq, models.ErrorCategoryBudget, ErrMaxIterations.Error())
	result.TokensUsed = tokensUsed
	result.ToolCallsMade = toolCallsMade
	return result
}

func (e *Engine) cancel(ctx context.Context, execID string, seq *uint64, reason string) models.ExecutionResult {
	e.emitTerminal(ctx, execID, seq, models.EventExecutionCancelled, models.ExecutionCancelled, "", reason)
	if e.log != nil {
		if err := e.log.UpdateStatus(ctx, execID, models.ExecutionCancelled, ""); err != nil {
			e.logger.Error("event log update status failed", "execution_id", execID, "error", err)
		}
	}
	return models.ExecutionResult{ID: execID, Status: models.ExecutionCancelled, Error: reason}
}

package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// ResultOutcome classifies how an invocation ended, beyond plain
// success/failure — the engine needs to distinguish "tool ran and failed"
// from the runner-level short-circuits.
type ResultOutcome string

const (
	OutcomeSuccess          ResultOutcome = "success"
	OutcomeToolFailed       ResultOutcome = "tool_failed"
	OutcomeToolNotFound     ResultOutcome = "tool_not_found"
	OutcomeInvalidInput     ResultOutcome = "invalid_input"
	OutcomePermissionDenied ResultOutcome = "permission_denied"
	OutcomeRequiresApproval ResultOutcome = "requires_approval"
	OutcomeTimeout          ResultOutcome = "timeout"
)

// Result is the shaped output of one Execute call.
type Result struct {
	Outcome    ResultOutcome
	Success    bool
	Output     string
	Error      string
	DurationMs int64
	// DeniedReason/ApprovalReason carry the policy verdict's reason for
	// the corresponding outcomes.
	Reason string
}

// InvocationContext is handed to a tool's Handler. It carries the
// resolved backend and limits the executor selected, so handlers that
// shell out (rather than computing in-process) know how to run.
type InvocationContext struct {
	context.Context
	Backend Backend
	Limits  ResourceLimits
}

// Options configure one Execute call.
type Options struct {
	// Policy is the calling principal's authorization policy.
	Policy Policy
	// SandboxDisabled skips step 4 of §4.5 entirely.
	SandboxDisabled bool
	// AvailableBackends are the isolation vessels this process can use,
	// in no particular order — SelectBackend applies the preference
	// order.
	AvailableBackends []Backend
	// Timeout is the wall-clock budget for the whole invocation,
	// including any retries a caller layers on top. Zero uses
	// DefaultTimeout.
	Timeout time.Duration
	// InformationalExitCodes marks exit codes that are not failures for
	// this specific tool (e.g. grep's exit 1 meaning "no matches").
	InformationalExitCodes map[int]bool
}

// DefaultTimeout is applied when Options.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Executor runs single tool invocations against a Registry.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs one tool call end to end, per the seven steps of §4.5.
// It never writes to the event log, publishes to the bus, or mutates a
// session — the caller does that with the returned Result.
func (e *Executor) Execute(ctx context.Context, toolName string, arguments json.RawMessage, opts Options) Result {
	start := time.Now()

	// 1. Resolve.
	tool, schema, ok := e.registry.Lookup(toolName)
	if !ok {
		return Result{Outcome: OutcomeToolNotFound, Success: false, Error: "tool not found: " + toolName}
	}

	// 2. Validate.
	if schema != nil {
		var v any
		if err := json.Unmarshal(arguments, &v); err != nil {
			return Result{Outcome: OutcomeInvalidInput, Success: false, Error: "arguments are not valid JSON: " + err.Error()}
		}
		if err := schema.Validate(v); err != nil {
			return Result{Outcome: OutcomeInvalidInput, Success: false, Error: "arguments failed schema validation: " + err.Error()}
		}
	}

	// 3. Policy.
	verdict := opts.Policy.Evaluate(toolName, tool.Definition.Risk)
	switch verdict.Permission {
	case Denied:
		return Result{Outcome: OutcomePermissionDenied, Success: false, Reason: verdict.Reason}
	case RequiresConfirmation:
		return Result{Outcome: OutcomeRequiresApproval, Reason: verdict.Reason}
	}

	// 4 & 5. Select vessel and apply resource limits. A low-risk tool (or
	// a disabled sandbox policy) always runs via NoneBackend.
	backend := SelectBackend(tool.Definition.Risk, opts.SandboxDisabled, opts.AvailableBackends)
	limits := DefaultResourceLimits()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// 6. Timeout enforcement.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	invocation := &InvocationContext{Context: runCtx, Backend: backend, Limits: limits}

	type runResult struct {
		output string
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		output, err := tool.Handler(invocation, arguments)
		select {
		case done <- runResult{output: output, err: err}:
		case <-runCtx.Done():
		}
	}()

	select {
	case <-runCtx.Done():
		return Result{
			Outcome:    OutcomeTimeout,
			Success:    false,
			Error:      fmt.Sprintf("tool execution timed out after %v", timeout),
			DurationMs: time.Since(start).Milliseconds(),
		}
	case r := <-done:
		// 7. Shape the result.
		duration := time.Since(start).Milliseconds()
		if r.err != nil {
			if code, ok := exitCode(r.err); ok && opts.InformationalExitCodes[code] {
				return Result{Outcome: OutcomeSuccess, Success: true, Output: r.output, DurationMs: duration}
			}
			return Result{Outcome: OutcomeToolFailed, Success: false, Output: r.output, Error: r.err.Error(), DurationMs: duration}
		}
		return Result{Outcome: OutcomeSuccess, Success: true, Output: r.output, DurationMs: duration}
	}
}

// ToToolResult converts a Result into the wire-shape ToolResult echoed
// back to the planner.
func ToToolResult(callID string, r Result) models.ToolResult {
	out := models.ToolResult{CallID: callID, Success: r.Success, Output: r.Output, DurationMs: r.DurationMs}
	if !r.Success {
		if r.Error != "" {
			out.Error = r.Error
		} else if r.Reason != "" {
			out.Error = r.Reason
		}
	}
	return out
}

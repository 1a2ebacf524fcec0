// Package observability provides the orchestrator's monitoring and
// debugging surface through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Prometheus counters, histograms, and gauges for executions,
//     planner calls, tool calls, approvals, and admission queue depth
//  2. Logging - structured logs (slog) with sensitive data redaction
//  3. Tracing - OpenTelemetry spans, one per execution with child spans
//     per planner call and per tool call
//
// # Metrics
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.ExecutionStarted()
//	defer metrics.ExecutionFinished("cli", "completed", time.Since(start).Seconds())
//
//	metrics.RecordPlannerRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on slog with:
//   - Automatic request/session ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.AddSessionID(ctx, sessionKey)
//	logger.Info(ctx, "execution started", "channel", "cli")
//
// # Tracing
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "orchestrate",
//	    Endpoint:    os.Getenv("ORCHESTRATE_OTEL_ENDPOINT"), // empty disables tracing
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceExecution(ctx, "cli", sessionKey)
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//
// # Security
//
// The logging component redacts API keys, passwords/secrets, JWTs, and
// bearer tokens from both formatted messages and structured fields.
package observability

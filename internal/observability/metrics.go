package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Execution throughput and outcomes by channel
//   - Planner (LLM) request performance, token usage, and errors
//   - Tool execution patterns and latencies
//   - Approval request outcomes and latency
//   - Admission queue depth and wait time
//   - Maintenance sweep duration
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ExecutionStarted("cli")
//	defer metrics.PlannerRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// ExecutionCounter counts executions by channel and terminal status.
	// Labels: channel, status (completed|failed|cancelled)
	ExecutionCounter *prometheus.CounterVec

	// ExecutionDuration measures wall-clock execution time in seconds.
	// Labels: channel, status
	// Buckets: 0.5s, 1s, 2.5s, 5s, 10s, 30s, 60s, 120s, 300s
	ExecutionDuration *prometheus.HistogramVec

	// ActiveExecutions is a gauge tracking executions currently in flight.
	ActiveExecutions prometheus.Gauge

	// PlannerRequestDuration measures planner (LLM) call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	PlannerRequestDuration *prometheus.HistogramVec

	// PlannerRequestCounter counts planner requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	PlannerRequestCounter *prometheus.CounterVec

	// PlannerTokensUsed tracks token consumption by provider, model, and type.
	// Labels: provider, model, type (input|output)
	PlannerTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval requests by outcome.
	// Labels: outcome (approved|denied|expired)
	ApprovalCounter *prometheus.CounterVec

	// ApprovalWait measures time spent awaiting an approval decision.
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s
	ApprovalWait prometheus.Histogram

	// AdmissionQueueDepth tracks the number of requests currently held by
	// the admission queue (awaiting their Sequential turn or Collect window).
	AdmissionQueueDepth prometheus.Gauge

	// ErrorCounter tracks terminal failures by error category.
	// Labels: category (transient|budget|internal)
	ErrorCounter *prometheus.CounterVec

	// MaintenanceSweepDuration measures each maintenance job's run time.
	// Labels: job
	// Buckets: 0.001s, 0.01s, 0.1s, 0.5s, 1s, 5s, 30s
	MaintenanceSweepDuration *prometheus.HistogramVec

	// MaintenanceSweepCounter counts maintenance job runs by outcome.
	// Labels: job, status (success|error)
	MaintenanceSweepCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_executions_total",
				Help: "Total number of executions by channel and terminal status",
			},
			[]string{"channel", "status"},
		),

		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrate_execution_duration_seconds",
				Help:    "Wall-clock duration of executions in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"channel", "status"},
		),

		ActiveExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrate_active_executions",
				Help: "Current number of executions in flight",
			},
		),

		PlannerRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrate_planner_request_duration_seconds",
				Help:    "Duration of planner (LLM) requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		PlannerRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_planner_requests_total",
				Help: "Total number of planner requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		PlannerTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_planner_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrate_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_approvals_total",
				Help: "Total number of approval requests by outcome",
			},
			[]string{"outcome"},
		),

		ApprovalWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrate_approval_wait_seconds",
				Help:    "Time spent awaiting an approval decision",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),

		AdmissionQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrate_admission_queue_depth",
				Help: "Current number of requests held by the admission queue",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_errors_total",
				Help: "Total number of terminal failures by error category",
			},
			[]string{"category"},
		),

		MaintenanceSweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrate_maintenance_sweep_duration_seconds",
				Help:    "Duration of maintenance job runs in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"job"},
		),

		MaintenanceSweepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrate_maintenance_sweeps_total",
				Help: "Total number of maintenance job runs by outcome",
			},
			[]string{"job", "status"},
		),
	}
}

// ExecutionStarted increments the active executions gauge.
func (m *Metrics) ExecutionStarted() {
	m.ActiveExecutions.Inc()
}

// ExecutionFinished records a terminal execution outcome and decrements
// the active executions gauge.
//
// Example:
//
//	start := time.Now()
//	// ... run execution ...
//	metrics.ExecutionFinished("cli", "completed", time.Since(start).Seconds())
func (m *Metrics) ExecutionFinished(channel, status string, durationSeconds float64) {
	m.ActiveExecutions.Dec()
	m.ExecutionCounter.WithLabelValues(channel, status).Inc()
	m.ExecutionDuration.WithLabelValues(channel, status).Observe(durationSeconds)
}

// RecordPlannerRequest records metrics for a planner (LLM) call.
//
// Example:
//
//	start := time.Now()
//	// ... call planner ...
//	metrics.RecordPlannerRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordPlannerRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.PlannerRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.PlannerRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.PlannerTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.PlannerTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("current_time", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records an approval request's terminal outcome and, if
// known, the time spent waiting for it.
//
// Example:
//
//	metrics.RecordApproval("approved", 12.5)
func (m *Metrics) RecordApproval(outcome string, waitSeconds float64) {
	m.ApprovalCounter.WithLabelValues(outcome).Inc()
	if waitSeconds > 0 {
		m.ApprovalWait.Observe(waitSeconds)
	}
}

// SetAdmissionQueueDepth sets the current admission queue depth.
func (m *Metrics) SetAdmissionQueueDepth(depth int) {
	m.AdmissionQueueDepth.Set(float64(depth))
}

// RecordError increments the error counter for a given error category.
//
// Example:
//
//	metrics.RecordError("transient")
//	metrics.RecordError("budget")
func (m *Metrics) RecordError(category string) {
	m.ErrorCounter.WithLabelValues(category).Inc()
}

// RecordMaintenanceSweep records a maintenance job's run outcome and duration.
//
// Example:
//
//	start := time.Now()
//	// ... run sweep ...
//	metrics.RecordMaintenanceSweep("memory-sweep", "success", time.Since(start).Seconds())
func (m *Metrics) RecordMaintenanceSweep(job, status string, durationSeconds float64) {
	m.MaintenanceSweepCounter.WithLabelValues(job, status).Inc()
	m.MaintenanceSweepDuration.WithLabelValues(job).Observe(durationSeconds)
}

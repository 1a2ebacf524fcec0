// Package engine implements the Orchestrator Engine (C6): the execution
// loop that ties together a planner, a tool registry, a memory store, and
// the optional event bus, event log, approval manager, skill router,
// steering registry, and admission queue, per §4.6 of the design.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/first-fluke/cratos-sub006/internal/admission"
	"github.com/first-fluke/cratos-sub006/internal/approval"
	"github.com/first-fluke/cratos-sub006/internal/contextpack"
	"github.com/first-fluke/cratos-sub006/internal/eventbus"
	"github.com/first-fluke/cratos-sub006/internal/eventlog"
	"github.com/first-fluke/cratos-sub006/internal/memory"
	"github.com/first-fluke/cratos-sub006/internal/observability"
	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/internal/skillrouter"
	"github.com/first-fluke/cratos-sub006/internal/steering"
	"github.com/first-fluke/cratos-sub006/internal/toolrunner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// DefaultMaxIterations is the hard cap on planner rounds per execution,
// per §4.6.3.
const DefaultMaxIterations = 10

// DefaultMaxDepth bounds nested sub-executions (tools that re-enter the
// engine) absent an explicit Config.MaxDepth.
const DefaultMaxDepth = 25

// Config holds the tunables from §4.6.3 plus the admission/packing
// settings a builder wires alongside the optional collaborators.
type Config struct {
	// MaxIterations is the hard cap on planner rounds. <= 0 uses
	// DefaultMaxIterations.
	MaxIterations int
	// TokenBudget is the cumulative token budget across planner rounds.
	// Zero means unlimited.
	TokenBudget int
	// MaxDepth bounds nested sub-executions. <= 0 uses DefaultMaxDepth.
	MaxDepth int
	// WallClock is the optional per-execution timeout. Zero disables it.
	WallClock time.Duration

	// ApprovalThreshold is the minimum tool risk level that requires an
	// approval round-trip before execution.
	ApprovalThreshold models.RiskLevel
	// ApprovalTTL overrides approval.DefaultTTL when set.
	ApprovalTTL time.Duration

	// ToolOptions configures every toolrunner.Executor.Execute call.
	ToolOptions toolrunner.Options

	// PackOptions configures how session history is packed into planner
	// requests.
	PackOptions contextpack.Options

	// AdmissionMode and CollectWindow must mirror the admission.Queue
	// passed via WithAdmissionQueue — the engine needs to know whether to
	// wait out a merge window as a Collect-mode owner, but admission.Queue
	// does not expose its own configuration.
	AdmissionMode admission.Mode
	CollectWindow time.Duration
}

// DefaultConfig returns the spec's defaults: 10 max iterations, unlimited
// tokens, depth 25, no wall clock, Medium+ risk requires approval, the
// teacher's default tool policy.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		MaxDepth:          DefaultMaxDepth,
		ApprovalThreshold: models.RiskMedium,
		ToolOptions:       toolrunner.Options{Policy: toolrunner.DefaultPolicy()},
		PackOptions:       contextpack.DefaultOptions(),
	}
}

// mergedInput is one caller's contribution to a Collect-mode execution,
// per DESIGN.md's resolution of Open Question (i): every merged input is
// appended to the owning session in arrival order, tagged with its own
// caller identity.
type mergedInput struct {
	CallerID string
	Text     string
}

// Engine is the C6 orchestrator. Construct with New and the functional
// options below; the zero value is not usable.
type Engine struct {
	planner  planner.Planner
	tools    *toolrunner.Registry
	executor *toolrunner.Executor
	memory   memory.Store

	bus       *eventbus.Bus
	log       eventlog.Store
	approvals *approval.Manager
	skills    *skillrouter.Router
	steering  *steering.Registry
	queue     *admission.Queue

	metrics *observability.Metrics
	tracer  *observability.Tracer

	packer    *contextpack.Packer
	cfg       Config
	recursion *recursionTracker
	logger    *slog.Logger
	newID     func() string

	mergeMu      sync.Mutex
	mergeBuffers map[string][]mergedInput

	dedupMu    sync.Mutex
	dedup      map[string]models.ExecutionResult
	queueDepth int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

func WithEventBus(bus *eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }

func WithEventLog(log eventlog.Store) Option { return func(e *Engine) { e.log = log } }

func WithApprovalManager(m *approval.Manager) Option { return func(e *Engine) { e.approvals = m } }

func WithSkillRouter(r *skillrouter.Router) Option { return func(e *Engine) { e.skills = r } }

// WithSteeringRegistry overrides the engine's steering registry. A fresh
// one is created by New if this option is not supplied — every execution
// needs a steering handle regardless, so this collaborator is optional
// only in the sense that callers rarely need to supply their own.
func WithSteeringRegistry(r *steering.Registry) Option { return func(e *Engine) { e.steering = r } }

// WithAdmissionQueue enables admission control. Config.AdmissionMode and
// Config.CollectWindow must match how queue was constructed.
func WithAdmissionQueue(q *admission.Queue) Option { return func(e *Engine) { e.queue = q } }

// WithMetrics enables Prometheus instrumentation of executions, planner
// calls, tool calls, and approval outcomes.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer enables an OpenTelemetry span per execution, with child
// spans per planner call and per tool call.
func WithTracer(t *observability.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator overrides execution ID generation. Tests use this to
// pin a deterministic ID so they can reach the steering handle for an
// execution that is about to start.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New builds an Engine around the mandatory planner, tool registry, and
// memory store, applying opts in order.
func New(p planner.Planner, tools *toolrunner.Registry, mem memory.Store, opts ...Option) *Engine {
	e := &Engine{
		planner:      p,
		tools:        tools,
		executor:     toolrunner.NewExecutor(tools),
		memory:       mem,
		steering:     steering.NewRegistry(),
		cfg:          DefaultConfig(),
		logger:       slog.Default(),
		newID:        uuid.NewString,
		mergeBuffers: make(map[string][]mergedInput),
		dedup:        make(map[string]models.ExecutionResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxIterations <= 0 {
		e.cfg.MaxIterations = DefaultMaxIterations
	}
	if e.cfg.MaxDepth <= 0 {
		e.cfg.MaxDepth = DefaultMaxDepth
	}
	if e.cfg.PackOptions.MaxMessages == 0 && e.cfg.PackOptions.MaxChars == 0 {
		e.cfg.PackOptions = contextpack.DefaultOptions()
	}
	e.packer = contextpack.NewPacker(e.cfg.PackOptions)
	e.recursion = newRecursionTracker(e.cfg.MaxDepth)
	return e
}

// ExecuteInput is the inbound Execute operation's request shape (§6).
type ExecuteInput struct {
	Channel     string
	SessionKey  string
	UserID      string
	InputText   string
	AuthContext string
	// DedupKey, if set, makes Execute idempotent: a repeated call with the
	// same key returns the first call's cached ExecutionResult instead of
	// starting a new execution.
	DedupKey string
}

// Execute is the inbound Execute operation (§6): admits the request,
// loads/merges session state, runs the execution loop, and returns the
// final result. Budget/input validation errors that occur before an
// execution record exists are returned directly rather than wrapped in an
// ExecutionResult, since no execution ID has been minted yet.
func (e *Engine) Execute(ctx context.Context, in ExecuteInput) (models.ExecutionResult, error) {
	if in.SessionKey == "" {
		return models.ExecutionResult{}, ErrSessionKeyRequired
	}
	if in.InputText == "" {
		return models.ExecutionResult{}, ErrInputTextRequired
	}

	if in.DedupKey != "" {
		if cached, ok := e.dedupGet(in.DedupKey); ok {
			return cached, nil
		}
	}

	if err := e.recursion.enter(); err != nil {
		return models.ExecutionResult{Status: models.ExecutionFailed, ErrorCategory: models.ErrorCategoryBudget, Error: err.Error()}, nil
	}
	defer e.recursion.exit()

	result, err := e.admitAndRun(ctx, in)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	if in.DedupKey != "" {
		e.dedupPut(in.DedupKey, result)
	}
	return result, nil
}

func (e *Engine) admitAndRun(ctx context.Context, in ExecuteInput) (result models.ExecutionResult, err error) {
	if e.queue == nil {
		return e.runGuarded(ctx, []mergedInput{{CallerID: in.UserID, Text: in.InputText}}, in), nil
	}

	if e.cfg.AdmissionMode != admission.Collect {
		e.queueDepthAdd(1)
		permit, acqErr := e.queue.Acquire(ctx)
		e.queueDepthAdd(-1)
		if acqErr != nil {
			return models.ExecutionResult{}, acqErr
		}
		defer permit.Release()
		return e.runGuarded(ctx, []mergedInput{{CallerID: in.UserID, Text: in.InputText}}, in), nil
	}

	e.mergeMu.Lock()
	e.mergeBuffers[in.SessionKey] = append(e.mergeBuffers[in.SessionKey], mergedInput{CallerID: in.UserID, Text: in.InputText})
	e.mergeMu.Unlock()

	e.queueDepthAdd(1)
	jr, acqErr := e.queue.AcquireOrJoin(ctx, in.SessionKey)
	e.queueDepthAdd(-1)
	if acqErr != nil {
		return models.ExecutionResult{}, acqErr
	}
	if jr.Joined {
		raw, waitErr := jr.Waiter.Wait(ctx)
		if waitErr != nil {
			return models.ExecutionResult{}, waitErr
		}
		if merged, ok := raw.(models.ExecutionResult); ok {
			return merged, nil
		}
		return models.ExecutionResult{}, nil
	}

	defer jr.Permit.Release()

	window := e.cfg.CollectWindow
	if window <= 0 {
		window = admission.DefaultCollectWindow
	}
	select {
	case <-time.After(window):
	case <-ctx.Done():
	}
	e.queue.CloseWindow(in.SessionKey)

	e.mergeMu.Lock()
	inputs := e.mergeBuffers[in.SessionKey]
	delete(e.mergeBuffers, in.SessionKey)
	e.mergeMu.Unlock()
	if len(inputs) == 0 {
		inputs = []mergedInput{{CallerID: in.UserID, Text: in.InputText}}
	}

	result = e.runGuarded(ctx, inputs, in)
	e.queue.PublishResult(in.SessionKey, result)
	return result, nil
}

// runGuarded recovers a panic at the engine boundary (per §4.6.1's
// guarantee that permits are released on all exit paths including a
// recovered panic) and reports it as an internal failure instead of
// propagating it to the caller.
func (e *Engine) runGuarded(ctx context.Context, inputs []mergedInput, in ExecuteInput) (result models.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: recovered panic at execution boundary", "panic", r, "session_key", in.SessionKey)
			result = models.ExecutionResult{Status: models.ExecutionFailed, ErrorCategory: models.ErrorCategoryInternal, Error: "internal error"}
		}
	}()
	return e.run(ctx, in, inputs)
}

func (e *Engine) dedupGet(key string) (models.ExecutionResult, bool) {
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	r, ok := e.dedup[key]
	return r, ok
}

func (e *Engine) dedupPut(key string, result models.ExecutionResult) {
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	e.dedup[key] = result
}

// ControlResult is the outcome of a Control call (§6).
type ControlResult string

const (
	ControlOK            ControlResult = "ok"
	ControlNotFound      ControlResult = "not_found"
	ControlChannelClosed ControlResult = "channel_closed"
)

// Control is the inbound Control operation (§6): delivers a steering
// message to a live execution, identified by ID.
func (e *Engine) Control(executionID string, msg models.SteerMessage) (result ControlResult) {
	h, ok := e.steering.Lookup(executionID)
	if !ok {
		return ControlNotFound
	}
	defer func() {
		if r := recover(); r != nil {
			result = ControlChannelClosed
		}
	}()
	switch msg.Kind {
	case models.SteerAbort:
		h.Abort(msg)
	case models.SteerSkipTool:
		h.SkipTool(msg)
	default:
		h.InjectUserText(msg)
	}
	return ControlOK
}

// queueDepthAdd adjusts the count of executions currently blocked on
// admission (queued waiting for a permit, not yet running) and reports it
// to Metrics.AdmissionQueueDepth when instrumentation is enabled.
func (e *Engine) queueDepthAdd(delta int64) {
	depth := atomic.AddInt64(&e.queueDepth, delta)
	if e.metrics != nil {
		e.metrics.SetAdmissionQueueDepth(int(depth))
	}
}

package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/first-fluke/cratos-sub006/internal/admission"
	"github.com/first-fluke/cratos-sub006/internal/approval"
	"github.com/first-fluke/cratos-sub006/internal/eventbus"
	"github.com/first-fluke/cratos-sub006/internal/eventlog"
	"github.com/first-fluke/cratos-sub006/internal/memory"
	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/internal/skillrouter"
	"github.com/first-fluke/cratos-sub006/internal/steering"
	"github.com/first-fluke/cratos-sub006/internal/toolrunner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// stepPlanner replays a scripted sequence of responses, one per call, and
// records every request it received.
type stepPlanner struct {
	mu        sync.Mutex
	responses []planner.Response
	calls     int
	requests  []planner.Request
	err       error
}

func (p *stepPlanner) CompleteWithTools(ctx context.Context, req planner.Request) (planner.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return planner.Response{}, p.err
	}
	if p.calls >= len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func drainEvents(sub *eventbus.Subscription) []models.Event {
	var out []models.Event
	for {
		select {
		case e, ok := <-sub.Stream():
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func eventKinds(events []models.Event) []models.EventKind {
	kinds := make([]models.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func newTestEngine(t *testing.T, p planner.Planner, opts ...Option) (*Engine, *eventbus.Bus, *eventlog.MemoryStore, memory.Store) {
	t.Helper()
	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	tools := toolrunner.NewRegistry()

	base := []Option{WithEventBus(bus), WithEventLog(log)}
	e := New(p, tools, mem, append(base, opts...)...)
	return e, bus, log, mem
}

func TestEngine_S1_TextOnlySuccess(t *testing.T) {
	p := &stepPlanner{responses: []planner.Response{{Content: "Hello!"}}}
	e, bus, _, mem := newTestEngine(t, p)
	sub := bus.Subscribe()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s1", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted || result.Output != "Hello!" {
		t.Fatalf("result = %+v, want Completed/Hello!", result)
	}

	kinds := eventKinds(drainEvents(sub))
	want := []models.EventKind{models.EventUserInput, models.EventPlanningStarted, models.EventLlmRequest, models.EventLlmResponse, models.EventExecutionCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}

	session, err := mem.Load(context.Background(), "u1:s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(session.Messages) != 2 || session.Messages[0].Content != "hi" || session.Messages[1].Content != "Hello!" {
		t.Fatalf("session.Messages = %+v, want exactly [hi, Hello!]", session.Messages)
	}
}

func TestEngine_S2_OneToolRoundTrip(t *testing.T) {
	tools := toolrunner.NewRegistry()
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "echo", Description: "echoes", Parameters: json.RawMessage(`{}`), Risk: models.RiskLow},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			return string(arguments), nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p := &stepPlanner{responses: []planner.Response{
		{ToolCalls: []models.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: json.RawMessage(`{"msg":"x"}`)}}},
		{Content: "done"},
	}}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log))
	sub := bus.Subscribe()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s2", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted || result.Output != "done" {
		t.Fatalf("result = %+v, want Completed/done", result)
	}
	if result.ToolCallsMade != 1 {
		t.Fatalf("ToolCallsMade = %d, want 1", result.ToolCallsMade)
	}

	kinds := eventKinds(drainEvents(sub))
	hasToolCall, hasToolResult := false, false
	for _, k := range kinds {
		if k == models.EventToolCall {
			hasToolCall = true
		}
		if k == models.EventToolResult {
			hasToolResult = true
		}
	}
	if !hasToolCall || !hasToolResult {
		t.Fatalf("events = %v, want ToolCall and ToolResult present", kinds)
	}

	session, err := mem.Load(context.Background(), "u1:s2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(session.Messages) != 2 || session.Messages[0].Content != "hi" || session.Messages[1].Content != "done" {
		t.Fatalf("session.Messages = %+v, want exactly [hi, done], no tool messages", session.Messages)
	}
}

// abortingPlanner blocks its single call until signaled by the test,
// letting the test deliver an Abort before the planner response (and thus
// the tool calls it carries) ever reaches the execution loop's per-call
// Poll.
type abortingPlanner struct {
	proceed  chan struct{}
	response planner.Response
}

func (p *abortingPlanner) CompleteWithTools(ctx context.Context, req planner.Request) (planner.Response, error) {
	select {
	case <-p.proceed:
	case <-ctx.Done():
		return planner.Response{}, ctx.Err()
	}
	return p.response, nil
}

func TestEngine_S3_AbortMidFlightCancelsWithoutRunningTools(t *testing.T) {
	p := &abortingPlanner{
		proceed: make(chan struct{}),
		response: planner.Response{ToolCalls: []models.ToolCall{
			{CallID: "c1", ToolName: "noop", Arguments: json.RawMessage(`{}`)},
			{CallID: "c2", ToolName: "noop", Arguments: json.RawMessage(`{}`)},
		}},
	}
	tools := toolrunner.NewRegistry()
	registered := false
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "noop", Parameters: json.RawMessage(`{}`), Risk: models.RiskLow},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			registered = true
			return "", nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	reg := steering.NewRegistry()
	const execID = "s3-exec"
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log), WithSteeringRegistry(reg), WithIDGenerator(func() string { return execID }))
	sub := bus.Subscribe()

	// Deliver the abort while the planner call is still blocked, then
	// release it — the per-call Poll in the execution loop guarantees c1
	// never runs once the abort has been queued.
	go func() {
		for i := 0; i < 200; i++ {
			time.Sleep(time.Millisecond)
			if h, ok := reg.Lookup(execID); ok {
				h.Abort(models.Abort("user", time.Now()))
				close(p.proceed)
				return
			}
		}
	}()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s3", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCancelled {
		t.Fatalf("result.Status = %v, want Cancelled", result.Status)
	}

	kinds := eventKinds(drainEvents(sub))
	for _, k := range kinds {
		if k == models.EventToolCall {
			t.Fatalf("events = %v, want no ToolCall after abort", kinds)
		}
	}
	if registered {
		t.Fatal("tool handler ran after abort, want no tool invocation")
	}

	if _, err := mem.Load(context.Background(), "u1:s3"); err == nil {
		t.Fatal("session was saved after an aborted execution, want ErrNotFound")
	}
}

func TestEngine_S4_ApprovalDenied(t *testing.T) {
	tools := toolrunner.NewRegistry()
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "shell", Parameters: json.RawMessage(`{}`), Risk: models.RiskHigh},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			t.Fatal("shell handler ran despite denial")
			return "", nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p := &stepPlanner{responses: []planner.Response{
		{ToolCalls: []models.ToolCall{{CallID: "c2", ToolName: "shell", Arguments: json.RawMessage(`{}`)}}},
		{Content: "ok, skipped that"},
	}}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	approvals := approval.NewManager()
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log), WithApprovalManager(approvals),
		WithConfig(Config{MaxIterations: DefaultMaxIterations, MaxDepth: DefaultMaxDepth, ApprovalThreshold: models.RiskHigh, ToolOptions: toolrunner.Options{Policy: toolrunner.DefaultPolicy()}}))
	sub := bus.Subscribe()

	go func() {
		for i := 0; i < 200; i++ {
			time.Sleep(time.Millisecond)
			pending := approvals.ListPending("")
			if len(pending) > 0 {
				approvals.Resolve(pending[0].RequestID, "resolver1", models.ApprovalDenied)
				return
			}
		}
	}()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s4", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted {
		t.Fatalf("result.Status = %v, want Completed", result.Status)
	}

	kinds := eventKinds(drainEvents(sub))
	hasRequested, hasResolved := false, false
	for _, k := range kinds {
		if k == models.EventApprovalRequested {
			hasRequested = true
		}
		if k == models.EventApprovalResolved {
			hasResolved = true
		}
	}
	if !hasRequested || !hasResolved {
		t.Fatalf("events = %v, want ApprovalRequested and ApprovalResolved", kinds)
	}
}

func TestEngine_S5_BudgetExceededMaxIterations(t *testing.T) {
	p := &stepPlanner{responses: []planner.Response{
		{ToolCalls: []models.ToolCall{{CallID: "c1", ToolName: "noop", Arguments: json.RawMessage(`{}`)}}},
	}}
	tools := toolrunner.NewRegistry()
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "noop", Parameters: json.RawMessage(`{}`), Risk: models.RiskLow},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			return "", nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log), WithConfig(Config{MaxIterations: 2, MaxDepth: DefaultMaxDepth, ToolOptions: toolrunner.Options{Policy: toolrunner.DefaultPolicy()}}))
	sub := bus.Subscribe()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s5", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionFailed || result.ErrorCategory != models.ErrorCategoryBudget {
		t.Fatalf("result = %+v, want Failed/budget", result)
	}

	events := drainEvents(sub)
	started := 0
	for _, e := range events {
		if e.Kind == models.EventPlanningStarted {
			started++
		}
	}
	if started != 2 {
		t.Fatalf("PlanningStarted count = %d, want 2", started)
	}

	if _, loadErr := mem.Load(context.Background(), "u1:s5"); loadErr == nil {
		t.Fatal("session was saved after a failed execution, want ErrNotFound")
	}
}

func TestEngine_S6_ConcurrentAdmissionLimitsParallelism(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 3)

	p := &blockingPlanner{release: release, started: started}
	tools := toolrunner.NewRegistry()
	mem := memory.NewMemoryStore(0)
	queue := admission.New(admission.Config{Mode: admission.Concurrent, N: 2})
	e := New(p, tools, mem, WithAdmissionQueue(queue), WithConfig(Config{MaxIterations: DefaultMaxIterations, MaxDepth: DefaultMaxDepth, AdmissionMode: admission.Concurrent, ToolOptions: toolrunner.Options{Policy: toolrunner.DefaultPolicy()}}))

	var wg sync.WaitGroup
	results := make([]models.ExecutionResult, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "s6", UserID: "u", InputText: "hi"})
			if err != nil {
				t.Errorf("Execute() error = %v", err)
				return
			}
			results[i] = r
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	if len(started) != 2 {
		t.Fatalf("started count = %d, want exactly 2 admitted before release", len(started))
	}

	close(release)
	wg.Wait()

	for _, r := range results {
		if r.Status != models.ExecutionCompleted {
			t.Fatalf("result = %+v, want Completed", r)
		}
	}
}

// blockingPlanner blocks every call on release, recording that it started
// so the test can observe how many executions were admitted concurrently.
type blockingPlanner struct {
	release chan struct{}
	started chan string
}

func (p *blockingPlanner) CompleteWithTools(ctx context.Context, req planner.Request) (planner.Response, error) {
	p.started <- "started"
	select {
	case <-p.release:
	case <-ctx.Done():
		return planner.Response{}, ctx.Err()
	}
	return planner.Response{Content: "done"}, nil
}

// TestEngine_S4_ApprovalApprovedToolRuns covers the approved branch of §4.5
// step 3: DefaultPolicy's own RiskThreshold (Medium) would otherwise demand
// confirmation a second time when the runner is re-invoked after the
// engine's approval gate already granted it.
func TestEngine_S4_ApprovalApprovedToolRuns(t *testing.T) {
	var ran bool
	tools := toolrunner.NewRegistry()
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "shell", Parameters: json.RawMessage(`{}`), Risk: models.RiskHigh},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			ran = true
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p := &stepPlanner{responses: []planner.Response{
		{ToolCalls: []models.ToolCall{{CallID: "c2", ToolName: "shell", Arguments: json.RawMessage(`{}`)}}},
		{Content: "done"},
	}}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	approvals := approval.NewManager()
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log), WithApprovalManager(approvals),
		WithConfig(Config{MaxIterations: DefaultMaxIterations, MaxDepth: DefaultMaxDepth, ApprovalThreshold: models.RiskHigh, ToolOptions: toolrunner.Options{Policy: toolrunner.DefaultPolicy()}}))

	go func() {
		for i := 0; i < 200; i++ {
			time.Sleep(time.Millisecond)
			pending := approvals.ListPending("")
			if len(pending) > 0 {
				approvals.Resolve(pending[0].RequestID, "resolver1", models.ApprovalApproved)
				return
			}
		}
	}()

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s4b", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted {
		t.Fatalf("result.Status = %v, want Completed", result.Status)
	}
	if !ran {
		t.Fatal("shell handler did not run despite approval, want it to execute")
	}
}

// TestEngine_SkillToolsPreAuthorized covers §4.7(b): a skill match's Tools
// bypass both the engine's approval gate and the runner's own policy
// re-check for this execution, with no Approval Manager round trip at all.
func TestEngine_SkillToolsPreAuthorized(t *testing.T) {
	var ran bool
	tools := toolrunner.NewRegistry()
	if err := tools.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{Name: "shell", Parameters: json.RawMessage(`{}`), Risk: models.RiskHigh},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			ran = true
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	skills := skillrouter.New(skillrouter.Config{})
	skills.Register(&skillrouter.Skill{
		ID:     "sh",
		Name:   "shell-skill",
		Always: true,
		Hint:   "use the shell tool",
		Tools:  []string{"shell"},
	})

	p := &stepPlanner{responses: []planner.Response{
		{ToolCalls: []models.ToolCall{{CallID: "c3", ToolName: "shell", Arguments: json.RawMessage(`{}`)}}},
		{Content: "done"},
	}}

	bus := eventbus.New(64)
	log := eventlog.NewMemoryStore()
	mem := memory.NewMemoryStore(0)
	approvals := approval.NewManager()
	e := New(p, tools, mem, WithEventBus(bus), WithEventLog(log), WithApprovalManager(approvals), WithSkillRouter(skills),
		WithConfig(Config{MaxIterations: DefaultMaxIterations, MaxDepth: DefaultMaxDepth, ApprovalThreshold: models.RiskLow, ToolOptions: toolrunner.Options{Policy: toolrunner.DefaultPolicy()}}))

	result, err := e.Execute(context.Background(), ExecuteInput{Channel: "web", SessionKey: "u1:s4c", UserID: "u1", InputText: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted {
		t.Fatalf("result.Status = %v, want Completed", result.Status)
	}
	if !ran {
		t.Fatal("shell handler did not run despite skill pre-authorization, want it to execute")
	}
	if len(approvals.ListPending("")) != 0 {
		t.Fatal("approval was requested despite skill pre-authorization, want none")
	}
}

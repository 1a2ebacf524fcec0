// Package steering implements the Steering Channel (C3): per-execution
// control messages (abort, skip-tool, inject-text) delivered through a
// bounded channel the engine polls non-blockingly before every tool call.
package steering

import (
	"sync"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Capacity is the fixed buffer size of every steering channel, per §3:
// senders block on a full channel (back-pressure), the engine drains it
// non-blockingly.
const Capacity = 16

// Handle is the send side of one execution's steering channel plus the
// execution ID it's scoped to. External subsystems (a chat front-end, an
// admin API) hold a Handle to inject control messages into a running
// execution; the engine holds the receive side.
type Handle struct {
	executionID string
	ch          chan models.SteerMessage
}

func newHandle(executionID string) *Handle {
	return &Handle{executionID: executionID, ch: make(chan models.SteerMessage, Capacity)}
}

// ExecutionID returns the execution this handle is scoped to.
func (h *Handle) ExecutionID() string { return h.executionID }

// InjectUserText enqueues a UserText steering message. Blocks if the
// channel is full.
func (h *Handle) InjectUserText(msg models.SteerMessage) {
	h.ch <- msg
}

// Abort enqueues an Abort steering message. Blocks if the channel is full.
func (h *Handle) Abort(msg models.SteerMessage) {
	h.ch <- msg
}

// SkipTool enqueues a SkipTool steering message. Blocks if the channel is
// full.
func (h *Handle) SkipTool(msg models.SteerMessage) {
	h.ch <- msg
}

// Registry is the process-wide execution_id -> Handle map so external
// subsystems can find a running execution's steering handle by ID. The
// engine creates an entry on execution start and removes it at execution
// end.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty steering registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Open creates and registers a new Handle/receiver pair for an execution.
// The caller (the engine) must call Close when the execution ends.
func (r *Registry) Open(executionID string) (*Handle, <-chan models.SteerMessage) {
	h := newHandle(executionID)
	r.mu.Lock()
	r.handles[executionID] = h
	r.mu.Unlock()
	return h, h.ch
}

// Close removes the registry entry for an execution. Safe to call even if
// the execution was never opened or was already closed.
func (r *Registry) Close(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, executionID)
}

// Lookup finds a live execution's Handle by ID.
func (r *Registry) Lookup(executionID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[executionID]
	return h, ok
}

// State tracks cooperative-cancellation and pending-injection state
// derived from polling the steering channel. One State is owned by a
// single execution's goroutine; it is not safe for concurrent use from
// multiple goroutines (unlike Registry and Handle, which are).
type State struct {
	ch        <-chan models.SteerMessage
	aborted   bool
	abortMsg  models.SteerMessage
	pendingUT []models.SteerMessage
}

// NewState wraps the receive side of an execution's steering channel.
func NewState(ch <-chan models.SteerMessage) *State {
	return &State{ch: ch}
}

// Aborted reports whether an Abort message has been observed by a prior
// Poll call.
func (s *State) Aborted() bool { return s.aborted }

// AbortMessage returns the SteerMessage that triggered Aborted, if any.
func (s *State) AbortMessage() models.SteerMessage { return s.abortMsg }

// PollOutcome is the result of one non-blocking poll.
type PollOutcome struct {
	// Aborted is true if this poll (or a prior one) observed an Abort.
	Aborted bool
	// SkipCallID is non-empty if a SkipTool message names the tool call
	// about to run.
	SkipCallID string
}

// Poll performs one non-blocking receive from the steering channel,
// applying the discipline from §4.3:
//
//   - nothing pending: outcome is the zero value.
//   - Abort: internal state flips to aborted for the remainder of the
//     execution; every subsequent Poll reports Aborted until the execution
//     ends.
//   - SkipTool(call_id): if it matches nextToolCallID, the call's ID is
//     returned so the caller can synthesize a skipped ToolResult instead of
//     invoking the tool; otherwise it is ignored (dropped).
//   - UserText(content): queued as pending; drained via TakePendingUserText
//     after the current tool executes.
//
// Once aborted, Poll keeps draining the channel (so senders never block
// forever) but stops queueing new UserText messages — the execution is
// ending regardless.
func (s *State) Poll(nextToolCallID string) PollOutcome {
	if s.aborted {
		return PollOutcome{Aborted: true}
	}

	select {
	case msg := <-s.ch:
		switch msg.Kind {
		case models.SteerAbort:
			s.aborted = true
			s.abortMsg = msg
			return PollOutcome{Aborted: true}
		case models.SteerSkipTool:
			if nextToolCallID != "" && msg.ToolCallID == nextToolCallID {
				return PollOutcome{SkipCallID: msg.ToolCallID}
			}
			return PollOutcome{}
		case models.SteerUserText:
			s.pendingUT = append(s.pendingUT, msg)
			return PollOutcome{}
		default:
			return PollOutcome{}
		}
	default:
		return PollOutcome{}
	}
}

// TakePendingUserText drains and returns every UserText message queued
// since the last call, in arrival order. The engine injects these as new
// user messages into the planner conversation before the next planning
// iteration.
func (s *State) TakePendingUserText() []models.SteerMessage {
	if len(s.pendingUT) == 0 {
		return nil
	}
	out := s.pendingUT
	s.pendingUT = nil
	return out
}

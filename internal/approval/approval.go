// Package approval implements the Approval Manager (C4): a two-phase
// request/resolve gate guarding risky tool calls, exposed as an awaitable
// future rather than the poll-based store the runtime this is adapted
// from used — see DESIGN.md for why.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// DefaultTTL is the default expiry for a pending request.
const DefaultTTL = 5 * time.Minute

// Spec describes a tool call awaiting approval.
type Spec struct {
	ExecutionID      string
	ToolName         string
	ArgumentsPreview string
	Reason           string
	TTL              time.Duration // zero uses DefaultTTL
}

// pendingEntry is the Manager's internal bookkeeping for one request: the
// public ApprovalRequest plus the machinery needed to resolve its future
// exactly once.
type pendingEntry struct {
	mu      sync.Mutex
	req     models.ApprovalRequest
	done    chan struct{}
	timer   *time.Timer
	onEvent func(models.ApprovalRequest)
}

// Manager tracks every in-flight approval request. Multiple requests for
// the same execution may be outstanding concurrently; each has an
// independent ID and future.
type Manager struct {
	mu       sync.RWMutex
	requests map[string]*pendingEntry
	nextID   uint64
	now      func() time.Time

	// OnEvent, if set, is invoked synchronously on request creation
	// (Pending) and on every terminal transition (Approved/Denied/Expired)
	// so the caller can emit ApprovalRequested/ApprovalResolved events.
	OnEvent func(models.ApprovalRequest)
}

// NewManager creates an empty approval manager.
func NewManager() *Manager {
	return &Manager{requests: make(map[string]*pendingEntry), now: time.Now}
}

// Request creates a Pending entry and returns its ID along with a Future
// that resolves when the entry reaches a terminal state.
func (m *Manager) Request(spec Spec) (requestID string, future *Future) {
	ttl := spec.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	m.nextID++
	id := idFor(spec.ExecutionID, m.nextID)
	m.mu.Unlock()

	now := m.now()
	entry := &pendingEntry{
		req: models.ApprovalRequest{
			RequestID:        id,
			ExecutionID:      spec.ExecutionID,
			ToolName:         spec.ToolName,
			ArgumentsPreview: spec.ArgumentsPreview,
			Reason:           spec.Reason,
			RequestedAt:      now,
			State:            models.ApprovalPending,
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.requests[id] = entry
	m.mu.Unlock()

	entry.timer = time.AfterFunc(ttl, func() {
		m.resolve(id, models.ApprovalExpired, "")
	})

	if m.OnEvent != nil {
		m.OnEvent(entry.req)
	}

	return id, &Future{manager: m, requestID: id, done: entry.done}
}

// Resolve transitions a pending request to a terminal state. It is a
// no-op if the request is unknown or already terminal (e.g. it already
// expired). decision must be Approved or Denied; any other value is
// treated as Denied.
func (m *Manager) Resolve(requestID, resolverID string, decision models.ApprovalState) {
	if decision != models.ApprovalApproved {
		decision = models.ApprovalDenied
	}
	m.resolve(requestID, decision, resolverID)
}

func (m *Manager) resolve(requestID string, decision models.ApprovalState, resolverID string) {
	m.mu.RLock()
	entry, ok := m.requests[requestID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.req.State.Terminal() {
		entry.mu.Unlock()
		return
	}
	entry.req.State = decision
	entry.req.ResolverID = resolverID
	entry.req.ResolvedAt = m.now()
	if entry.timer != nil {
		entry.timer.Stop()
	}
	snapshot := entry.req
	close(entry.done)
	entry.mu.Unlock()

	if m.OnEvent != nil {
		m.OnEvent(snapshot)
	}
}

// Get returns a snapshot of a request's current state.
func (m *Manager) Get(requestID string) (models.ApprovalRequest, bool) {
	m.mu.RLock()
	entry, ok := m.requests[requestID]
	m.mu.RUnlock()
	if !ok {
		return models.ApprovalRequest{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.req, true
}

// ListPending returns every request in the Pending state for an
// execution. Passing an empty executionID returns all pending requests.
func (m *Manager) ListPending(executionID string) []models.ApprovalRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ApprovalRequest
	for _, entry := range m.requests {
		entry.mu.Lock()
		req := entry.req
		entry.mu.Unlock()
		if req.State != models.ApprovalPending {
			continue
		}
		if executionID != "" && req.ExecutionID != executionID {
			continue
		}
		out = append(out, req)
	}
	return out
}

// Forget removes a terminal request's bookkeeping. Safe to call for a
// request that is still pending (it will simply remain trackable via its
// Future, but ListPending/Get will no longer find it) — callers should
// only Forget after observing a terminal state.
func (m *Manager) Forget(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, requestID)
}

func idFor(executionID string, n uint64) string {
	if executionID == "" {
		executionID = "exec"
	}
	return executionID + "-approval-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Future resolves once the approval request it was returned from reaches a
// terminal state.
type Future struct {
	manager   *Manager
	requestID string
	done      <-chan struct{}
}

// Wait blocks until the request resolves or ctx is cancelled, whichever
// comes first. A context cancellation does not resolve the request
// itself — the request keeps waiting for its own expiry or an explicit
// Resolve call; Wait just stops waiting on it.
func (f *Future) Wait(ctx context.Context) (models.ApprovalRequest, error) {
	select {
	case <-f.done:
		req, _ := f.manager.Get(f.requestID)
		return req, nil
	case <-ctx.Done():
		return models.ApprovalRequest{}, ctx.Err()
	}
}

// Package admission implements the engine's queue admission (§4.6.1):
// every incoming execution request acquires a permit before running.
// Three modes — Sequential, Concurrent(N), and Collect(window_ms) — share
// one semaphore-based permit pool; Collect additionally merges same-key
// inputs that arrive within its window into a single admitted execution.
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mode selects one of the three admission disciplines from §4.6.1.
type Mode int

const (
	// Sequential admits one execution at a time, strict arrival order.
	Sequential Mode = iota
	// Concurrent admits up to N executions in parallel.
	Concurrent
	// Collect admits one execution at a time, but merges same-session-key
	// inputs arriving within the configured window into it.
	Collect
)

// Config configures a Queue.
type Config struct {
	Mode Mode
	// N is the permit count for Concurrent mode. Ignored otherwise.
	N int
	// CollectWindow is the merge window for Collect mode. Ignored
	// otherwise. Defaults to 2 seconds, matching the reference queue this
	// was generalized from.
	CollectWindow time.Duration
}

// DefaultCollectWindow mirrors the reference implementation's default.
const DefaultCollectWindow = 2 * time.Second

// Queue is the permit pool the engine acquires before admitting an
// execution. Blocked waiters are served FIFO (semaphore.Weighted's
// internal waiter queue guarantees this); permit release is the caller's
// responsibility via the Permit returned from Acquire, typically via a
// deferred Release so it fires on every exit path including panics
// recovered at the engine boundary.
type Queue struct {
	sem           *semaphore.Weighted
	mode          Mode
	collectWindow time.Duration

	mu      sync.Mutex
	pending map[string]*collectGroup // session_key -> in-flight collect group
}

// New creates a Queue per cfg. Sequential ignores N (treated as 1);
// Concurrent requires N >= 1 (a non-positive N is treated as 1); Collect
// always holds exactly one permit at a time.
func New(cfg Config) *Queue {
	permits := int64(1)
	window := cfg.CollectWindow
	switch cfg.Mode {
	case Concurrent:
		if cfg.N > 0 {
			permits = int64(cfg.N)
		}
	case Collect:
		if window <= 0 {
			window = DefaultCollectWindow
		}
	}
	return &Queue{
		sem:           semaphore.NewWeighted(permits),
		mode:          cfg.Mode,
		collectWindow: window,
		pending:       make(map[string]*collectGroup),
	}
}

// Permit is held by one admitted execution. Release must be called
// exactly once, on every exit path.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit to the pool. Safe to call more than once;
// only the first call has effect.
func (p *Permit) Release() {
	p.once.Do(p.release)
}

// Acquire blocks until a permit is available or ctx is cancelled. For
// Sequential and Concurrent modes this is the whole story. For Collect
// mode, see AcquireOrJoin — plain Acquire still works but never merges;
// callers that want merge semantics must use AcquireOrJoin.
func (q *Queue) Acquire(ctx context.Context) (*Permit, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{release: func() { q.sem.Release(1) }}, nil
}

// ResultWaiter lets every caller merged into a collect group — the owner
// included — block until the group's shared result is published, per
// DESIGN.md open question (i): every merged caller gets the same
// ExecutionResult. Broadcast is implemented by closing done, not by
// sending on a channel, so an arbitrary number of joiners can each
// receive it.
type ResultWaiter struct {
	done <-chan struct{}
	get  func() any
}

// Wait blocks until the group's result is published or ctx is cancelled.
func (w *ResultWaiter) Wait(ctx context.Context) (any, error) {
	select {
	case <-w.done:
		return w.get(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// JoinResult is returned by AcquireOrJoin.
type JoinResult struct {
	// Permit is non-nil exactly when this caller is the owner that must
	// eventually run the (possibly merged) execution and call Release.
	Permit *Permit
	// Joined is true when this caller's input was merged into another
	// in-flight caller's execution instead of starting its own.
	Joined bool
	// Waiter resolves to the group's shared result once the owner calls
	// PublishResult. Set for both the owner and every joiner, so all of
	// them can await the same outcome.
	Waiter *ResultWaiter
}

type collectGroup struct {
	mu     sync.Mutex
	permit *Permit
	result any
	done   chan struct{}
	timer  *time.Timer
	// closed marks that the merge window has ended (by expiry or an
	// explicit CloseWindow call): no further caller may join this group.
	// The group itself stays in q.pending until PublishResult removes it,
	// so a slow owner whose work outlives the window can still publish —
	// only PublishResult deletes the entry, guaranteeing every Wait()
	// eventually unblocks. Guarded by q.mu, not group.mu.
	closed bool
}

func (g *collectGroup) waiter() *ResultWaiter {
	return &ResultWaiter{
		done: g.done,
		get: func() any {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.result
		},
	}
}

// AcquireOrJoin implements Collect-mode admission for one input keyed by
// sessionKey. If no collect group is open for this key, it blocks on the
// single permit like Acquire and becomes the owner: the returned Permit
// is this caller's, and it is responsible for delivering the eventual
// result via PublishResult. If a collect group for this key is already
// open (another caller's input arrived first and is still within the
// window), this call joins it: Permit is nil, Joined is true, and Waiter
// resolves once the owner publishes.
//
// Only meaningful when the Queue was constructed with Mode: Collect;
// other modes always return an owning Permit with Joined false and a nil
// Waiter.
func (q *Queue) AcquireOrJoin(ctx context.Context, sessionKey string) (JoinResult, error) {
	if q.mode != Collect {
		p, err := q.Acquire(ctx)
		if err != nil {
			return JoinResult{}, err
		}
		return JoinResult{Permit: p}, nil
	}

	q.mu.Lock()
	if group, ok := q.pending[sessionKey]; ok && !group.closed {
		q.mu.Unlock()
		return JoinResult{Joined: true, Waiter: group.waiter()}, nil
	}
	q.mu.Unlock()

	p, err := q.Acquire(ctx)
	if err != nil {
		return JoinResult{}, err
	}

	group := &collectGroup{permit: p, done: make(chan struct{})}
	q.mu.Lock()
	q.pending[sessionKey] = group
	q.mu.Unlock()

	group.timer = time.AfterFunc(q.collectWindow, func() {
		q.mu.Lock()
		if cur, ok := q.pending[sessionKey]; ok && cur == group {
			cur.closed = true
		}
		q.mu.Unlock()
	})

	return JoinResult{Permit: p, Waiter: group.waiter()}, nil
}

// CloseWindow ends a collect group's merge window immediately (e.g. the
// owner is about to start planning and no further input should merge
// in): no caller may join this group after CloseWindow returns. The
// group entry itself is left in place for PublishResult to find — only
// PublishResult removes it, so a later PublishResult call always reaches
// this group regardless of how long the owner takes. Idempotent.
func (q *Queue) CloseWindow(sessionKey string) {
	q.mu.Lock()
	group, ok := q.pending[sessionKey]
	if ok {
		group.closed = true
	}
	q.mu.Unlock()
	if ok && group.timer != nil {
		group.timer.Stop()
	}
}

// PublishResult delivers the owner's eventual result to every caller that
// joined sessionKey's collect group via AcquireOrJoin, then removes the
// group. Safe to call any time after the owner's AcquireOrJoin returned,
// including after the merge window closed (by expiry or CloseWindow) —
// closing only stops new joins, it never removes the group early, so the
// lookup here always finds it and every blocked Wait() is guaranteed to
// unblock exactly once.
func (q *Queue) PublishResult(sessionKey string, result any) {
	q.mu.Lock()
	group, ok := q.pending[sessionKey]
	if ok {
		delete(q.pending, sessionKey)
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	group.mu.Lock()
	group.result = result
	group.mu.Unlock()
	close(group.done)
	if group.timer != nil {
		group.timer.Stop()
	}
}

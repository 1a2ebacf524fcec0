package engine

import (
	"fmt"
	"sync/atomic"
)

// recursionTracker is the process-wide, lock-free max-recursion-depth
// counter from §4.6.3: nested sub-executions (tools that re-enter the
// engine) increment on enter and decrement on exit; a breach terminates
// the entering execution Failed(MaxDepthExceeded) without ever running it.
// Grounded on AgentOrchestrator's atomic enter_depth/exit_depth pair.
type recursionTracker struct {
	depth    atomic.Int64
	maxDepth int64
}

func newRecursionTracker(maxDepth int) *recursionTracker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &recursionTracker{maxDepth: int64(maxDepth)}
}

// enter increments depth and rejects the entry if it would breach
// maxDepth, restoring the prior depth so the rejection has no side effect.
func (t *recursionTracker) enter() error {
	depth := t.depth.Add(1)
	if depth > t.maxDepth {
		t.depth.Add(-1)
		return fmt.Errorf("%w: max depth %d", ErrMaxDepthExceeded, t.maxDepth)
	}
	return nil
}

func (t *recursionTracker) exit() {
	t.depth.Add(-1)
}

// tokenCounter is a per-execution, lock-free cumulative token counter.
// Budget is checked, not reset, within an execution's lifetime — each
// execution gets its own tokenCounter, per §4.6.4's "token counter is not
// decremented; usage is monotonic per execution and reset per execution"
// (reset meaning: a new execution starts a fresh counter, not that a
// running one is ever zeroed).
type tokenCounter struct {
	used   atomic.Int64
	budget int64 // 0 means unlimited
}

func newTokenCounter(budget int) *tokenCounter {
	return &tokenCounter{budget: int64(budget)}
}

// add tracks newly spent tokens and reports a budget breach, mirroring
// AgentOrchestrator.track_tokens.
func (c *tokenCounter) add(tokens int) error {
	if tokens <= 0 {
		return nil
	}
	total := c.used.Add(int64(tokens))
	if c.budget > 0 && total > c.budget {
		return fmt.Errorf("%w: used %d, budget %d", ErrBudgetExceeded, total, c.budget)
	}
	return nil
}

func (c *tokenCounter) total() int {
	return int(c.used.Load())
}

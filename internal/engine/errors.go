package engine

import "errors"

// Sentinel errors for the budget/terminal taxonomy of §4.6.3/§7. Matched
// with errors.Is at the call sites that translate them into
// ExecutionResult's ErrorCategory.
var (
	ErrMaxIterations    = errors.New("engine: max iterations exceeded")
	ErrBudgetExceeded   = errors.New("engine: token budget exceeded")
	ErrMaxDepthExceeded = errors.New("engine: max recursion depth exceeded")
	ErrCancelled        = errors.New("engine: execution cancelled")

	// ErrSessionKeyRequired is an input error: Execute requires a non-empty
	// session key to load/save conversation state and to admit under
	// Sequential/Concurrent/Collect modes.
	ErrSessionKeyRequired = errors.New("engine: session key is required")
	// ErrInputTextRequired is an input error: an empty user turn carries no
	// work for the planner.
	ErrInputTextRequired = errors.New("engine: input text is required")
)

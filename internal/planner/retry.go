package planner

import (
	"context"

	"github.com/first-fluke/cratos-sub006/internal/retry"
)

// RetryingPlanner wraps a Planner and retries transient failures with
// exponential backoff, per §7's "transient upstream errors ... retried
// with exponential backoff inside the affected subcomponent only (planner
// call retried up to N times)". A non-retryable error (retry.IsPermanent)
// or context cancellation aborts immediately.
type RetryingPlanner struct {
	inner  Planner
	config retry.Config
}

// NewRetryingPlanner wraps inner with retry.Config. A zero Config uses
// retry.DefaultConfig().
func NewRetryingPlanner(inner Planner, config retry.Config) *RetryingPlanner {
	if config.MaxAttempts <= 0 {
		config = retry.DefaultConfig()
	}
	return &RetryingPlanner{inner: inner, config: config}
}

// Provider passes through the wrapped planner's provider label, if it
// exposes one, for metrics/tracing.
func (p *RetryingPlanner) Provider() string {
	if named, ok := p.inner.(interface{ Provider() string }); ok {
		return named.Provider()
	}
	return "unknown"
}

func (p *RetryingPlanner) CompleteWithTools(ctx context.Context, req Request) (Response, error) {
	resp, result := retry.DoWithValue(ctx, p.config, func() (Response, error) {
		return p.inner.CompleteWithTools(ctx, req)
	})
	if result.Err != nil {
		return Response{}, result.Err
	}
	return resp, nil
}

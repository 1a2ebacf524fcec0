// Package maintenance runs the orchestrator's periodic background sweeps
// (memory TTL expiry, event-log retention) on their own schedule, outside
// any execution's request path.
//
// Scheduling is built on robfig/cron/v3, the same cron dependency the
// teacher repo carries for its own periodic jobs (internal/cron), rather
// than a hand-rolled ticker loop: each Job becomes one "@every <interval>"
// cron entry, trimmed of that package's general message/webhook/agent
// cron-job model (which belonged to the channel-bot product) down to the
// fixed internal sweep jobs the orchestrator itself needs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of Jobs, each once immediately and then on
// its own cron entry, until Stop is called.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
	cron   *cron.Cron

	mu        sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler running the given jobs. A job with a
// non-positive Interval or nil Run is skipped.
func New(jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{logger: slog.Default(), runCtx: context.Background()}
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			s.jobs = append(s.jobs, j)
		}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(cron.WithLogger(cronLoggerAdapter{s.logger}))
	for _, job := range s.jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.Interval)
		if _, err := s.cron.AddFunc(spec, func() { s.runOnce(job) }); err != nil {
			s.logger.Error("maintenance: failed to schedule job", "job", job.Name, "error", err)
		}
	}
	return s
}

// Start runs every job once immediately and begins its cron schedule.
// Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		// Run once immediately rather than waiting out the first
		// interval — a freshly started orchestrator shouldn't sit
		// TTL-expired for a full interval before its first sweep.
		go s.runOnce(job)
	}
	s.cron.Start()
}

// Stop cancels every job's context and waits for the cron scheduler to
// finish any run already in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.runCancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("maintenance job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Debug("maintenance job completed", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}

// cronLoggerAdapter routes robfig/cron's own internal logging (entry
// scheduling, recovered panics) through the scheduler's slog.Logger.
type cronLoggerAdapter struct{ logger *slog.Logger }

func (a cronLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a cronLoggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}

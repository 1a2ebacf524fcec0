package eventlog

import (
	"context"
	"log/slog"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// DurableStore wraps a fast in-memory Store with a best-effort mirror to a
// durable backend. Reads are always served from the in-memory store; writes
// go to both, but a durable-backend failure is logged and swallowed — the
// live execution never sees it. Durability here is for audit, not
// correctness.
type DurableStore struct {
	hot     Store
	durable Store
	log     *slog.Logger
}

// NewDurableStore pairs an in-memory Store with a durable one. durable may
// be nil, in which case DurableStore behaves exactly like hot.
func NewDurableStore(hot, durable Store, log *slog.Logger) *DurableStore {
	if log == nil {
		log = slog.Default()
	}
	return &DurableStore{hot: hot, durable: durable, log: log}
}

func (d *DurableStore) CreateExecution(ctx context.Context, meta ExecutionMeta) error {
	if err := d.hot.CreateExecution(ctx, meta); err != nil {
		return err
	}
	if d.durable != nil {
		if err := d.durable.CreateExecution(ctx, meta); err != nil {
			d.log.Warn("eventlog: durable create_execution failed, continuing in-memory only",
				"execution_id", meta.ExecutionID, "error", err)
		}
	}
	return nil
}

func (d *DurableStore) Append(ctx context.Context, e models.Event) error {
	if err := d.hot.Append(ctx, e); err != nil {
		return err
	}
	if d.durable != nil {
		if err := d.durable.Append(ctx, e); err != nil {
			d.log.Warn("eventlog: durable append failed, continuing in-memory only",
				"execution_id", e.ExecutionID, "sequence", e.Sequence, "error", err)
		}
	}
	return nil
}

func (d *DurableStore) ListEvents(ctx context.Context, executionID string) ([]models.Event, error) {
	return d.hot.ListEvents(ctx, executionID)
}

func (d *DurableStore) UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus, output string) error {
	if err := d.hot.UpdateStatus(ctx, executionID, status, output); err != nil {
		return err
	}
	if d.durable != nil {
		if err := d.durable.UpdateStatus(ctx, executionID, status, output); err != nil {
			d.log.Warn("eventlog: durable update_status failed, continuing in-memory only",
				"execution_id", executionID, "error", err)
		}
	}
	return nil
}

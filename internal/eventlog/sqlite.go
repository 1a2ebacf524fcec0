package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
	"go.opentelemetry.io/otel/trace"

	"github.com/first-fluke/cratos-sub006/internal/observability"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// SQLiteStore is a durable Store backed by a pure-Go sqlite driver. It
// mirrors MemoryStore's semantics exactly (same sequence-gap invariant,
// same error sentinels) so the two are interchangeable; the engine uses
// MemoryStore for the hot path and optionally mirrors to a SQLiteStore
// for audit durability across process restarts.
type SQLiteStore struct {
	db     *sql.DB
	tracer *observability.Tracer
}

// OpenSQLiteStore opens (creating if needed) a sqlite database at path and
// ensures its schema exists. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// WithTracer enables an OpenTelemetry span per query, grouped under
// "db.<operation>".
func (s *SQLiteStore) WithTracer(t *observability.Tracer) *SQLiteStore {
	s.tracer = t
	return s
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			session_key  TEXT NOT NULL,
			channel      TEXT NOT NULL,
			status       TEXT NOT NULL,
			output       TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS events (
			execution_id TEXT NOT NULL,
			sequence     INTEGER NOT NULL,
			payload      TEXT NOT NULL,
			PRIMARY KEY (execution_id, sequence),
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("eventlog: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, meta ExecutionMeta) error {
	if meta.ExecutionID == "" {
		return fmt.Errorf("eventlog: execution id is required")
	}
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.TraceDatabaseQuery(ctx, "insert", "executions")
		defer span.End()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, session_key, channel, status) VALUES (?, ?, ?, ?)`,
		meta.ExecutionID, meta.SessionKey, meta.Channel, string(models.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutionExists, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, e models.Event) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.TraceDatabaseQuery(ctx, "insert", "events")
		defer span.End()
	}
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE execution_id = ?`, e.ExecutionID)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("eventlog: check execution: %w", err)
	}
	if count == 0 {
		return ErrExecutionMissing
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (execution_id, sequence, payload) VALUES (?, ?, ?)`,
		e.ExecutionID, e.Sequence, string(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDuplicateSequence, err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, executionID string) ([]models.Event, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.TraceDatabaseQuery(ctx, "select", "events")
		defer span.End()
	}
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE execution_id = ?`, executionID)
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("eventlog: check execution: %w", err)
	}
	if count == 0 {
		return nil, ErrExecutionMissing
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE execution_id = ? ORDER BY sequence ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		var e models.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, output = ? WHERE execution_id = ?`,
		string(status), output, executionID)
	if err != nil {
		return fmt.Errorf("eventlog: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventlog: rows affected: %w", err)
	}
	if n == 0 {
		return ErrExecutionMissing
	}
	return nil
}

// PruneOlderThan deletes every execution (and its events, via the
// foreign-key cascade the schema relies on application-side) whose
// created_at predates cutoff, returning the number of executions removed.
// Intended for a periodic retention sweep, not the hot path.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_id FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventlog: select stale executions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("eventlog: scan stale execution: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE execution_id = ?`, id); err != nil {
			return 0, fmt.Errorf("eventlog: delete stale events: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE execution_id = ?`, id); err != nil {
			return 0, fmt.Errorf("eventlog: delete stale execution: %w", err)
		}
	}
	return len(ids), nil
}

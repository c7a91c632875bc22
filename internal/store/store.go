// internal/store/store.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can run against a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists action logs and terminal session status for consumption by
// the surrounding product (dashboards, billing, notifications). It owns no
// schema beyond these two record shapes.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// InsertActionLog writes one executed-action record.
func (s *Store) InsertActionLog(ctx context.Context, rec schemas.ActionLogRecord) error {
	const q = `INSERT INTO action_logs
		(session_id, sequence, tool_label, instruction, reasoning, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	payload := rec.RawPayload
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID, rec.Sequence, rec.ToolLabel,
		rec.Instruction, rec.Reasoning, payload, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}
	return nil
}

// UpdateSessionStatus records a session's terminal state.
func (s *Store) UpdateSessionStatus(ctx context.Context, upd schemas.SessionStatusUpdate) error {
	const q = `INSERT INTO session_statuses
		(session_id, status, reason, step_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			step_count = EXCLUDED.step_count,
			finished_at = EXCLUDED.finished_at`

	_, err := s.pool.Exec(ctx, q,
		upd.SessionID, string(upd.Status), upd.Reason,
		upd.StepCount, upd.StartedAt.UTC(), upd.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	s.log.Info("Recorded terminal session status.",
		zap.String("session_id", upd.SessionID),
		zap.String("status", string(upd.Status)),
		zap.Int("step_count", upd.StepCount))
	return nil
}

// File: internal/taskstore/postgres.go
package taskstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a pgxmock pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStore wraps an existing pool and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("taskstore"),
	}, nil
}

// SaveTask upserts the task summary so the same statement serves both the
// initial running row and the terminal update.
func (s *PostgresStore) SaveTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, session_id, goal, status, steps_taken, duration_seconds, message, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			steps_taken = EXCLUDED.steps_taken,
			duration_seconds = EXCLUDED.duration_seconds,
			message = EXCLUDED.message,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at;
	`, rec.TaskID, rec.SessionID, rec.Goal, string(rec.Status), rec.StepsTaken,
		rec.DurationSeconds, rec.Message, rec.Error, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", rec.TaskID, err)
	}
	return nil
}

// SaveStep appends one step row.
func (s *PostgresStore) SaveStep(ctx context.Context, rec StepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_steps (task_id, step, action, sub_goal, success, message, observation_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, rec.TaskID, rec.Step, rec.Action, rec.SubGoal, rec.Success, rec.Message,
		rec.ObservationHash, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save step %d of task %s: %w", rec.Step, rec.TaskID, err)
	}
	return nil
}

// GetTask retrieves a single task summary by id.
func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (TaskRecord, error) {
	var rec TaskRecord
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT task_id, session_id, goal, status, steps_taken, duration_seconds, message, error, started_at, finished_at
		FROM tasks WHERE task_id = $1;
	`, taskID).Scan(&rec.TaskID, &rec.SessionID, &rec.Goal, &status, &rec.StepsTaken,
		&rec.DurationSeconds, &rec.Message, &rec.Error, &rec.StartedAt, &rec.FinishedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskRecord{}, ErrNotFound
		}
		return TaskRecord{}, err
	}
	rec.Status = schemas.TaskStatus(status)
	return rec, nil
}

// ListSteps returns the full step trail of a task in execution order.
func (s *PostgresStore) ListSteps(ctx context.Context, taskID string) ([]StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, step, action, sub_goal, success, message, observation_hash, created_at
		FROM task_steps WHERE task_id = $1 ORDER BY step;
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		if err := rows.Scan(&rec.TaskID, &rec.Step, &rec.Action, &rec.SubGoal,
			&rec.Success, &rec.Message, &rec.ObservationHash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		steps = append(steps, rec)
	}
	return steps, rows.Err()
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

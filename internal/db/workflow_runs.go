package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/songsmith/internal/workflow"
)

// -----------------------------------------------------------------------------
// Workflow run and step log methods (implements workflow.Store)
// -----------------------------------------------------------------------------

// CreateRun inserts a running workflow run for a trigger
func (db *DB) CreateRun(ctx context.Context, job string, trig workflow.Trigger) (*workflow.Run, error) {
	run := workflow.Run{
		ID:      uuid.New(),
		Job:     job,
		Trigger: trig,
		Status:  workflow.RunStatusRunning,
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO workflow_runs (id, job, song_id, user_id, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		run.ID, job, trig.SongID, trig.UserID, run.Status,
	).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a workflow run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*workflow.Run, error) {
	var run workflow.Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, job, song_id, user_id, status, created_at, completed_at
		 FROM workflow_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Job, &run.Trigger.SongID, &run.Trigger.UserID,
		&run.Status, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}
	return &run, nil
}

// CompleteRun marks a workflow run terminal
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete workflow run: %w", err)
	}
	return nil
}

// ListPendingRuns retrieves runs of a job that never reached a terminal
// status, oldest first, so crash recovery preserves submission order per key
func (db *DB) ListPendingRuns(ctx context.Context, job string) ([]workflow.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job, song_id, user_id, status, created_at, completed_at
		 FROM workflow_runs
		 WHERE job = $1 AND status = $2
		 ORDER BY created_at`,
		job, workflow.RunStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []workflow.Run
	for rows.Next() {
		var run workflow.Run
		if err := rows.Scan(&run.ID, &run.Job, &run.Trigger.SongID, &run.Trigger.UserID,
			&run.Status, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetStep retrieves the logged result for (run, step), nil when unlogged
func (db *DB) GetStep(ctx context.Context, runID uuid.UUID, step string) (*workflow.StepRecord, error) {
	var rec workflow.StepRecord
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, step, output, error_message, completed_at
		 FROM workflow_steps
		 WHERE run_id = $1 AND step = $2`,
		runID, step,
	).Scan(&rec.RunID, &rec.Step, &rec.Output, &rec.ErrMessage, &rec.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workflow step: %w", err)
	}
	return &rec, nil
}

// SaveStep durably records a step result. The first write for a key wins;
// a conflicting replay write is a no-op
func (db *DB) SaveStep(ctx context.Context, rec *workflow.StepRecord) error {
	completedAt := rec.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO workflow_steps (run_id, step, output, error_message, completed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, step) DO NOTHING`,
		rec.RunID, rec.Step, rec.Output, rec.ErrMessage, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow step: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alexandria/internal/core"
)

const jobColumns = `resource_id, state, attempt_count, last_error, created_at, started_at, completed_at`

// CreateJob inserts the job row for a newly submitted resource.
func (s *Store) CreateJob(ctx context.Context, job *core.IngestionJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ResourceID, string(job.State), job.AttemptCount, job.LastError,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job for resource %s already exists", core.ErrConflict, job.ResourceID)
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job row by resource ID.
func (s *Store) GetJob(ctx context.Context, resourceID string) (*core.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE resource_id = ?`, resourceID)

	var job core.IngestionJob
	var state string
	var started, completed sql.NullTime
	err := row.Scan(&job.ResourceID, &state, &job.AttemptCount, &job.LastError,
		&job.CreatedAt, &started, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job for resource %s", core.ErrNotFound, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.State = core.IngestionStatus(state)
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// ClaimJob atomically transitions a pending job to processing, incrementing
// attempt_count and recording started_at. It returns the new attempt count,
// or ErrConflict if the job is no longer claimable.
func (s *Store) ClaimJob(ctx context.Context, resourceID string) (int, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET state = 'processing', attempt_count = attempt_count + 1, started_at = ?
		WHERE resource_id = ? AND state = 'pending'`, now, resourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: job for resource %s is not pending", core.ErrConflict, resourceID)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx,
		`SELECT attempt_count FROM ingestion_jobs WHERE resource_id = ?`, resourceID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to read attempt count: %w", err)
	}
	return attempts, nil
}

// ReleaseJob rolls a processing job back to pending. Used on cancellation and
// when scheduling a retry; attempt_count is decremented only when
// keepAttempt is false (cancellation discards the attempt).
func (s *Store) ReleaseJob(ctx context.Context, resourceID string, keepAttempt bool, lastError string) error {
	query := `UPDATE ingestion_jobs
		SET state = 'pending', last_error = ?
		WHERE resource_id = ? AND state = 'processing'`
	if !keepAttempt {
		query = `UPDATE ingestion_jobs
		SET state = 'pending', attempt_count = attempt_count - 1, last_error = ?
		WHERE resource_id = ? AND state = 'processing'`
	}
	_, err := s.db.ExecContext(ctx, query, lastError, resourceID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// CompleteJob marks a job terminal (completed or failed) with its final error.
func (s *Store) CompleteJob(ctx context.Context, resourceID string, state core.IngestionStatus, lastError string) error {
	if state != core.StatusCompleted && state != core.StatusFailed {
		return core.Validationf("job terminal state must be completed or failed, got %s", state)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET state = ?, last_error = ?, completed_at = ?
		WHERE resource_id = ?`, string(state), lastError, now, resourceID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ListPendingJobs returns pending job resource IDs in submission order.
// Used at startup to resume work that survived a crash.
func (s *Store) ListPendingJobs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id FROM ingestion_jobs
		WHERE state IN ('pending', 'processing')
		ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetOrphanedJobs moves processing jobs back to pending. Called once at
// startup: any job in processing at boot belonged to a dead worker.
func (s *Store) ResetOrphanedJobs(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET state = 'pending' WHERE state = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orphaned jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

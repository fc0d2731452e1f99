package db

import (
	"context"
	"time"

	"facilitypm/internal/types"
)

const (
	acquireLockSQL = `
INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
   SET worker_id  = EXCLUDED.worker_id,
       locked_at  = EXCLUDED.locked_at,
       expires_at = EXCLUDED.expires_at
 WHERE job_locks.expires_at < EXCLUDED.locked_at`

	releaseLockSQL = `DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`

	startJobSQL = `
INSERT INTO job_history (job_type, started_at, status)
VALUES ($1, NOW(), 'running')
RETURNING id`

	finishJobSQL = `
UPDATE job_history
   SET finished_at = NOW(), status = $2, items_count = $3, error = $4
 WHERE id = $1`
)

// JobLockRepository stores the per-day sweep locks in job_locks.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a JobLockRepository.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire takes lockID (for example "pm_sweep:2026-03-01") for ttl. An
// expired lock is taken over; a live one held by any worker, including
// workerID itself, yields false. Expiry is computed here rather than with
// SQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, acquireLockSQL, lockID, workerID, now, now.Add(ttl))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops lockID if workerID still holds it.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	if _, err := r.db.Exec(ctx, releaseLockSQL, lockID, workerID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobHistoryRepository keeps one job_history row per sweep run.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start opens a run in state 'running'.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, startJobSQL, jobType).Scan(&id); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes run id with status ('success' or 'failed'), the number of
// occurrences processed and the run error, if any.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var msg *string
	if jobErr != nil {
		m := jobErr.Error()
		msg = &m
	}
	tag, err := r.db.Exec(ctx, finishJobSQL, id, status, items, msg)
	switch {
	case err != nil:
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	case tag.RowsAffected() == 0:
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

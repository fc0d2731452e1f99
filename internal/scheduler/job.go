package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// lockTTL bounds how long a crashed run can hold the day's lock.
const lockTTL = 15 * time.Minute

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Sweeper runs sweep tasks.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (SweepResult, error)
	TopUp(ctx context.Context, now time.Time) int64
}

// JobRunner wraps the sweep with a once-per-day lock and a job_history
// record. It is shared by the pm-sweeper function and the in-process cron
// trigger, so at most one of them sweeps a given day.
type JobRunner struct {
	Sweeper    Sweeper
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Execute runs the task named by payload. It returns a short summary; a held
// lock is not an error.
//
//  1. Determine the reference time.
//  2. Acquire the lock "task:YYYY-MM-DD".
//  3. Record job start.
//  4. Run the task.
//  5. Record completion and release the lock.
func (j *JobRunner) Execute(ctx context.Context, payload SweepPayload) (string, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	if payload.Task == "" {
		payload.Task = TaskPMSweep
	}
	task := string(payload.Task)

	logger.InfoContext(ctx, "scheduled job invoked",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", j.WorkerID,
	)

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Format(time.DateOnly))
	if j.JobLock != nil {
		acquired, err := j.JobLock.Acquire(ctx, lockID, j.WorkerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
				"lock_id", lockID,
			)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
		defer func() {
			if err := j.JobLock.Release(context.WithoutCancel(ctx), lockID, j.WorkerID); err != nil {
				logger.WarnContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	var jobID int64
	if j.JobHistory != nil {
		id, err := j.JobHistory.Start(ctx, task)
		if err != nil {
			// History is best effort; jobID 0 skips Finish.
			logger.ErrorContext(ctx, "failed to start job history", "task", task, "error", err)
		} else {
			jobID = id
		}
	}

	items, execErr := j.dispatch(ctx, payload.Task, now)

	if jobID != 0 {
		status := "success"
		if execErr != nil {
			status = "failed"
		}
		if err := j.JobHistory.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed", "task", task, "error", execErr)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}
	return fmt.Sprintf("task %s complete: %d items processed", task, items), nil
}

func (j *JobRunner) dispatch(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskPMSweep:
		result, err := j.Sweeper.Run(ctx, now)
		return result.Processed, err
	case TaskPMTopUp:
		return int(j.Sweeper.TopUp(ctx, now)), nil
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

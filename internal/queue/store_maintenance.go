package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns per-status job counts.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// Health summarizes queue state for status displays.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	counts, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Queued:      counts[StatusQueued],
		Downloading: counts[StatusDownloading],
		Seeding:     counts[StatusSeeding],
		Processing:  counts[StatusProcessing],
		Completed:   counts[StatusCompleted],
		Failed:      counts[StatusFailed],
	}
	for _, count := range counts {
		summary.Total += count
	}
	return summary, nil
}

// UnsatisfiedCount returns the number of jobs that have not yet met the seed
// target and still hold tracker obligations.
func (s *Store) UnsatisfiedCount(ctx context.Context, targetSeconds int64) (int, error) {
	jobs, err := s.Active(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, job := range jobs {
		if !job.Satisfied(targetSeconds) {
			count++
		}
	}
	return count, nil
}

// RetryFailed resets a failed job back to queued so the manager re-attempts it.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*Job, error) {
	return s.Mutate(ctx, id, func(job *Job) error {
		if job.Status != StatusFailed {
			return fmt.Errorf("job %d is %s, not failed", id, job.Status)
		}
		job.Status = StatusQueued
		job.FailureReason = ""
		job.ClearRetry()
		return nil
	})
}

// ClearCompleted removes completed job rows and returns how many were deleted.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.clearByStatus(ctx, StatusCompleted)
}

// ClearFailed removes failed job rows and returns how many were deleted.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.clearByStatus(ctx, StatusFailed)
}

func (s *Store) clearByStatus(ctx context.Context, status Status) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("clear %s jobs: %w", status, err)
	}
	return res.RowsAffected()
}

// PruneOlderThan removes terminal jobs last updated before the cutoff.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		StatusCompleted,
		StatusFailed,
		StatusRemoved,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

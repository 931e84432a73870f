package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/torrents"
)

// RemoveResult reports what a removal did, including whether it abandoned an
// unmet seed obligation.
type RemoveResult struct {
	Job             *queue.Job
	TorrentRemoved  bool
	ObligationUnmet bool
	AccruedSeconds  int64
	RequiredSeconds int64
}

// RemoveJob detaches a job from the backend and marks it removed. Removal is
// always honored, but abandoning a torrent before its seed target is met is
// flagged so callers can warn the user about tracker consequences.
func RemoveJob(
	ctx context.Context,
	store *queue.Store,
	client torrents.Client,
	targetSeedSeconds int64,
	id int64,
	deleteData bool,
	logger *slog.Logger,
) (*RemoveResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	job, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d not found", id)
	}

	result := &RemoveResult{
		Job:             job,
		RequiredSeconds: targetSeedSeconds,
		AccruedSeconds:  job.SeedAccruedSeconds,
	}
	if job.IsTerminal() {
		// Nothing to detach, and terminal statuses accept no transitions.
		return result, nil
	}

	if job.SeedAccruedSeconds < targetSeedSeconds {
		result.ObligationUnmet = true
		logger.Warn("removing job before seed obligation is met",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Int64("seed_accrued_seconds", job.SeedAccruedSeconds),
			logging.Int64("seed_target_seconds", targetSeedSeconds),
			logging.Alert("seed_obligation_abandoned"))
	}

	if job.TorrentHash != "" {
		if err := client.Remove(ctx, torrents.Handle(job.TorrentHash), deleteData); err != nil {
			return nil, fmt.Errorf("remove torrent from backend: %w", err)
		}
		result.TorrentRemoved = true
	}

	updated, err := store.Mutate(ctx, id, func(j *queue.Job) error {
		j.Status = queue.StatusRemoved
		j.ClearRetry()
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Job = updated
	return result, nil
}

// RemoveJob removes through the manager, keeping compliance slot accounting
// in step with the store.
func (m *Manager) RemoveJob(ctx context.Context, id int64, deleteData bool) (*RemoveResult, error) {
	// Take the same per-job exclusion the tick workers use so removal cannot
	// interleave with a step that is mid-mutation on this job.
	for !m.claim(id) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer m.release(id)

	result, err := RemoveJob(ctx, m.store, m.client, m.cfg.TargetSeedSeconds(), id, deleteData, m.logger)
	if err != nil {
		return nil, err
	}
	if result.TorrentRemoved && result.ObligationUnmet {
		m.engine.ReleaseSlot()
	}
	return result, nil
}

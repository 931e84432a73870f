package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"mamlarr/internal/compliance"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
	"mamlarr/internal/torrents"
)

// processingState carries per-job pipeline inputs across the seeding to
// processing transition. Persisted in the job's metadata column so a restart
// resumes processing with the right payload path.
type processingState struct {
	ContentPath string `json:"content_path"`
}

func encodeProcessingState(state processingState) string {
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeProcessingState(raw string) (processingState, error) {
	var state processingState
	if raw == "" {
		return state, errors.New("no processing state recorded")
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return state, err
	}
	return state, nil
}

// stepQueued requests an admission slot and submits the job's torrent to the
// backend. A denied admission is not an error: the job waits for a slot.
func (m *Manager) stepQueued(ctx context.Context, job *queue.Job, logger *slog.Logger) error {
	if !job.RetryEligible(time.Now().UTC()) {
		return nil
	}

	if err := m.engine.AdmitJob(); err != nil {
		if errors.Is(err, services.ErrCompliance) {
			logger.Debug("admission deferred",
				logging.String(logging.FieldReason, err.Error()),
				logging.String(logging.FieldEventType, "admission_deferred"))
			return nil
		}
		return err
	}

	payload, err := m.fetcher.FetchPayload(ctx, job.GUID)
	if err != nil {
		m.engine.ReleaseSlot()
		return err
	}

	parsed, err := torrents.AddPayload(ctx, m.client, payload, "mamlarr")
	if err != nil {
		m.engine.ReleaseSlot()
		return err
	}

	updated, err := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		j.Status = queue.StatusDownloading
		j.TorrentHash = parsed.Handle.String()
		if j.Title == "" {
			j.Title = parsed.Name
		}
		j.ClearRetry()
		return nil
	})
	if err != nil {
		m.engine.ReleaseSlot()
		if errors.Is(err, queue.ErrTerminalTransition) {
			// Job was removed while we were submitting. Clean the backend up.
			_ = m.client.Remove(ctx, parsed.Handle, true)
			return nil
		}
		return err
	}
	if updated == nil {
		// Job row deleted while we were submitting. Clean the backend up.
		m.engine.ReleaseSlot()
		_ = m.client.Remove(ctx, parsed.Handle, true)
		return nil
	}

	logger.Info("torrent submitted",
		logging.String("hash", parsed.Handle.String()),
		logging.String(logging.FieldBackend, m.client.Name()),
		logging.String(logging.FieldEventType, "download_started"))
	if err := m.notifier.NotifyDownloadStarted(ctx, updated.Title); err != nil {
		logger.Debug("notification failed", logging.Error(err))
	}
	return nil
}

// stepDownloading polls the backend until the payload is complete, then
// moves the job to seeding.
func (m *Manager) stepDownloading(ctx context.Context, job *queue.Job, logger *slog.Logger) error {
	status, err := m.client.Status(ctx, torrents.Handle(job.TorrentHash))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	becameSeeding := false
	updated, err := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		m.recordTransfer(j, status)
		j.LastPollAt = &now
		if status.Done || status.Seeding {
			j.Status = queue.StatusSeeding
			j.DownloadedAt = &now
			j.SeedStartedAt = &now
			j.ClearRetry()
			becameSeeding = true
		}
		return nil
	})
	if err != nil || updated == nil {
		return err
	}

	if becameSeeding {
		logger.Info("download complete, seeding",
			logging.String("hash", job.TorrentHash),
			logging.String(logging.FieldEventType, "seeding_started"))
		if err := m.notifier.NotifyDownloadCompleted(ctx, updated.Title); err != nil {
			logger.Debug("notification failed", logging.Error(err))
		}
	}
	return nil
}

// stepSeeding credits seed time for the interval since the previous poll and
// stops the torrent once policy allows it.
func (m *Manager) stepSeeding(ctx context.Context, job *queue.Job, logger *slog.Logger) error {
	status, err := m.client.Status(ctx, torrents.Handle(job.TorrentHash))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated, err := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		delta := compliance.AccrualDelta(now, j.LastPollAt, status.Seeding, 2*m.pollInterval)
		j.SeedAccruedSeconds = compliance.ReconcileAccrued(j.SeedAccruedSeconds+delta, status.SeedingSeconds)
		m.recordTransfer(j, status)
		j.LastPollAt = &now
		return nil
	})
	if err != nil || updated == nil {
		return err
	}
	if updated.IsTerminal() {
		// Removed out from under us between the poll and the write.
		return nil
	}

	target := m.cfg.TargetSeedSeconds()
	// The unsatisfied slot frees the moment the target is met, matching what
	// Rebuild counts after a restart. The ratio floor may still keep the
	// torrent in the backend, but it no longer blocks admissions.
	crossed := job.SeedAccruedSeconds < target && updated.SeedAccruedSeconds >= target
	if crossed {
		m.engine.ReleaseSlot()
	}

	if updated.SeedAccruedSeconds < target {
		return nil
	}
	if err := m.engine.PermitStop(updated); err != nil {
		if errors.Is(err, services.ErrCompliance) {
			logger.Debug("stop deferred",
				logging.String(logging.FieldReason, err.Error()),
				logging.String(logging.FieldEventType, "stop_deferred"))
			if crossed {
				if nErr := m.notifier.NotifyComplianceBlocked(ctx, updated.Title, err.Error()); nErr != nil {
					logger.Debug("notification failed", logging.Error(nErr))
				}
			}
			return nil
		}
		return err
	}

	// Remove the torrent but keep its payload: processing still needs it.
	if err := m.client.Remove(ctx, torrents.Handle(job.TorrentHash), false); err != nil {
		return err
	}

	final, err := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		j.Status = queue.StatusProcessing
		j.MetadataJSON = encodeProcessingState(processingState{ContentPath: status.ContentPath})
		j.ClearRetry()
		return nil
	})
	if err != nil || final == nil {
		return err
	}

	seedHours := float64(final.SeedAccruedSeconds) / 3600
	logger.Info("seed obligation satisfied",
		logging.Float64("seed_hours", seedHours),
		logging.String(logging.FieldEventType, "seeding_satisfied"))
	if err := m.notifier.NotifySeedingSatisfied(ctx, final.Title, seedHours); err != nil {
		logger.Debug("notification failed", logging.Error(err))
	}
	return nil
}

// stepProcessing runs the post-processing pipeline and completes the job.
func (m *Manager) stepProcessing(ctx context.Context, job *queue.Job, logger *slog.Logger) error {
	if !job.RetryEligible(time.Now().UTC()) {
		return nil
	}

	state, err := decodeProcessingState(job.MetadataJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "process", "missing processing state", err)
	}

	finalPath, err := m.pipeline.Process(ctx, job, state.ContentPath)
	if err != nil {
		return err
	}

	if m.cfg.Torrents.DeleteData {
		if err := os.RemoveAll(state.ContentPath); err != nil {
			logger.Warn("payload cleanup failed",
				logging.String("path", state.ContentPath),
				logging.Error(err))
		}
	}

	updated, err := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		j.Status = queue.StatusCompleted
		j.DestinationPath = finalPath
		j.ClearRetry()
		return nil
	})
	if err != nil || updated == nil {
		return err
	}

	logger.Info("job completed",
		logging.String("destination", finalPath),
		logging.String(logging.FieldEventType, "job_completed"))
	if err := m.notifier.NotifyProcessingCompleted(ctx, updated.Title, finalPath); err != nil {
		logger.Debug("notification failed", logging.Error(err))
	}
	return nil
}

// recordTransfer folds backend byte counters into the job and the account
// totals. Backend counters are cumulative per torrent, so the delta against
// the persisted values is what the account gains this poll.
func (m *Manager) recordTransfer(j *queue.Job, status *torrents.Status) {
	deltaUp := status.UploadedBytes - j.UploadedBytes
	deltaDown := status.DownloadedBytes - j.DownloadedBytes
	m.engine.RecordTransfer(deltaUp, deltaDown)
	if status.UploadedBytes > j.UploadedBytes {
		j.UploadedBytes = status.UploadedBytes
	}
	if status.DownloadedBytes > j.DownloadedBytes {
		j.DownloadedBytes = status.DownloadedBytes
	}
}

// handleStepError schedules a retry for transient failures and fails the job
// permanently otherwise.
func (m *Manager) handleStepError(ctx context.Context, job *queue.Job, logger *slog.Logger, err error) {
	if errors.Is(err, services.ErrCompliance) {
		logger.Debug("blocked by seeding policy", logging.String(logging.FieldReason, err.Error()))
		return
	}
	if errors.Is(err, queue.ErrTerminalTransition) {
		logger.Debug("job reached a terminal status mid-step")
		return
	}

	now := time.Now().UTC()
	if services.IsRetryable(err) && job.RetryCount < m.maxRetries {
		next := now.Add(retryBackoff(m.errorRetryInterval, job.RetryCount))
		if _, mutErr := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
			j.ScheduleRetry(next, err.Error())
			return nil
		}); mutErr != nil {
			if errors.Is(mutErr, queue.ErrTerminalTransition) {
				logger.Debug("job reached a terminal status mid-step")
				return
			}
			logger.Error("failed to schedule retry", logging.Error(mutErr))
			return
		}
		logger.Warn("step failed, will retry",
			logging.Error(err),
			logging.Int("retry", job.RetryCount+1),
			logging.String("next_attempt", next.Format(time.RFC3339)),
			logging.String(logging.FieldEventType, "step_retry_scheduled"))
		return
	}

	reason := services.FailureReason(err)
	failed, mutErr := m.store.Mutate(ctx, job.ID, func(j *queue.Job) error {
		j.SetFailed(reason, err.Error())
		return nil
	})
	if mutErr != nil {
		if errors.Is(mutErr, queue.ErrTerminalTransition) {
			logger.Debug("job reached a terminal status mid-step")
			return
		}
		logger.Error("failed to mark job failed", logging.Error(mutErr))
		return
	}
	// A job that died before meeting its seed target still holds its slot;
	// one that crossed the target already freed it in stepSeeding. The
	// persisted accrual decides, not the snapshot this step started from.
	if failed != nil && job.Status != queue.StatusQueued &&
		failed.SeedAccruedSeconds < m.cfg.TargetSeedSeconds() {
		m.engine.ReleaseSlot()
	}

	logger.Error("job failed",
		logging.Error(err),
		logging.String(logging.FieldReason, reason),
		logging.Alert("job_failed"))
	if notifyErr := m.notifier.NotifyJobFailed(ctx, job.Title, err); notifyErr != nil {
		logger.Debug("notification failed", logging.Error(notifyErr))
	}
}

// retryBackoff doubles the base interval per prior attempt, capped at an
// hour.
func retryBackoff(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	backoff := base
	for i := 0; i < retryCount && backoff < time.Hour; i++ {
		backoff *= 2
	}
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

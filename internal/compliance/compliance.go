// Package compliance enforces tracker seeding policy: minimum accrued seed
// time before a torrent may be stopped, an account ratio floor, and a ceiling
// on concurrently unsatisfied jobs.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
)

// Policy is the immutable seeding policy loaded from configuration.
type Policy struct {
	TargetSeedSeconds int64
	RatioFloor        float64
	MaxUnsatisfied    int
	RatioScope        string
}

// PolicyFromConfig extracts the seeding policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		TargetSeedSeconds: cfg.TargetSeedSeconds(),
		RatioFloor:        cfg.Seeding.RatioFloor,
		MaxUnsatisfied:    cfg.Seeding.MaxUnsatisfied,
		RatioScope:        cfg.Seeding.RatioScope,
	}
}

// Snapshot is a point-in-time view of compliance state for status displays
// and admission decisions.
type Snapshot struct {
	Unsatisfied     int
	MaxUnsatisfied  int
	UploadedBytes   int64
	DownloadedBytes int64
	AccountRatio    float64
}

// Engine tracks account-wide transfer totals and the unsatisfied-job count.
// All decisions flow through a single mutex so concurrent workers observe a
// consistent view; the store remains the durable source of truth and Rebuild
// restores the in-memory state after a restart.
type Engine struct {
	policy Policy
	logger *slog.Logger

	mu              sync.Mutex
	unsatisfied     int
	uploadedBytes   int64
	downloadedBytes int64
}

// NewEngine builds an empty engine; call Rebuild before serving decisions.
func NewEngine(policy Policy, logger *slog.Logger) *Engine {
	return &Engine{
		policy: policy,
		logger: logging.NewComponentLogger(logger, "compliance"),
	}
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Rebuild recomputes the unsatisfied count and account totals from persisted
// jobs. Called at daemon startup before the first poll tick.
func (e *Engine) Rebuild(ctx context.Context, store *queue.Store) error {
	jobs, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("rebuild compliance state: %w", err)
	}

	unsatisfied := 0
	var uploaded, downloaded int64
	for _, job := range jobs {
		uploaded += job.UploadedBytes
		downloaded += job.DownloadedBytes
		// Queued jobs have not been admitted to the backend yet and hold no
		// slot; they re-request admission on their next tick.
		if job.Status == queue.StatusQueued || job.IsTerminal() {
			continue
		}
		if !job.Satisfied(e.policy.TargetSeedSeconds) {
			unsatisfied++
		}
	}

	e.mu.Lock()
	e.unsatisfied = unsatisfied
	e.uploadedBytes = uploaded
	e.downloadedBytes = downloaded
	e.mu.Unlock()

	e.logger.Info("compliance state rebuilt",
		logging.Int("unsatisfied", unsatisfied),
		logging.Int64("uploaded_bytes", uploaded),
		logging.Int64("downloaded_bytes", downloaded))
	return nil
}

// Snapshot returns the current compliance view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Unsatisfied:     e.unsatisfied,
		MaxUnsatisfied:  e.policy.MaxUnsatisfied,
		UploadedBytes:   e.uploadedBytes,
		DownloadedBytes: e.downloadedBytes,
		AccountRatio:    ratio(e.uploadedBytes, e.downloadedBytes),
	}
}

// AdmitJob reserves an unsatisfied slot for a new job. Returns ErrCompliance
// when the ceiling is reached; the job stays queued outside the backend until
// a slot frees up.
func (e *Engine) AdmitJob() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.policy.MaxUnsatisfied > 0 && e.unsatisfied >= e.policy.MaxUnsatisfied {
		return services.Wrap(services.ErrCompliance, "compliance", "admit",
			fmt.Sprintf("unsatisfied ceiling reached (%d/%d)", e.unsatisfied, e.policy.MaxUnsatisfied), nil)
	}
	e.unsatisfied++
	return nil
}

// ReleaseSlot frees an unsatisfied slot after a job becomes satisfied or
// leaves the active set. Safe to call when the count is already zero.
func (e *Engine) ReleaseSlot() {
	e.mu.Lock()
	if e.unsatisfied > 0 {
		e.unsatisfied--
	}
	e.mu.Unlock()
}

// RecordTransfer folds a poll's byte-count deltas into the account totals.
// Negative deltas are dropped: backends report cumulative counters that only
// reset when a torrent is re-added, and a reset must not shrink history.
func (e *Engine) RecordTransfer(deltaUploaded, deltaDownloaded int64) {
	e.mu.Lock()
	if deltaUploaded > 0 {
		e.uploadedBytes += deltaUploaded
	}
	if deltaDownloaded > 0 {
		e.downloadedBytes += deltaDownloaded
	}
	e.mu.Unlock()
}

// PermitStop decides whether the job's torrent may be stopped and removed
// from the backend. Both conditions must hold: the accrued seed time meets
// the target, and the ratio in the configured scope stays at or above the
// floor once the torrent stops contributing.
func (e *Engine) PermitStop(job *queue.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if job.SeedAccruedSeconds < e.policy.TargetSeedSeconds {
		return services.Wrap(services.ErrCompliance, "compliance", "permit_stop",
			fmt.Sprintf("seed time %ds below target %ds", job.SeedAccruedSeconds, e.policy.TargetSeedSeconds), nil)
	}

	var projected float64
	switch e.policy.RatioScope {
	case config.RatioScopeJob:
		projected = job.Ratio()
	default:
		// The floor must hold after this torrent stops contributing, so
		// project the account ratio without the job's transfer. When the job
		// is the only transfer on the books the account ratio itself is the
		// projection.
		up := e.uploadedBytes - job.UploadedBytes
		down := e.downloadedBytes - job.DownloadedBytes
		if down > 0 {
			projected = float64(up) / float64(down)
		} else {
			projected = ratio(e.uploadedBytes, e.downloadedBytes)
		}
	}
	if projected < e.policy.RatioFloor {
		return services.Wrap(services.ErrCompliance, "compliance", "permit_stop",
			fmt.Sprintf("ratio %.3f below floor %.3f", projected, e.policy.RatioFloor), nil)
	}
	return nil
}

// AccrualDelta computes the seed-time credit for one poll observation. The
// delta is the wall-clock elapsed since the previous poll, credited only
// while the torrent was actively seeding, and bounded so a stalled daemon
// waking up cannot claim more time than actually passed.
func AccrualDelta(now time.Time, lastPoll *time.Time, seeding bool, maxDelta time.Duration) int64 {
	if !seeding || lastPoll == nil {
		return 0
	}
	elapsed := now.Sub(*lastPoll)
	if elapsed <= 0 {
		return 0
	}
	if maxDelta > 0 && elapsed > maxDelta {
		elapsed = maxDelta
	}
	return int64(elapsed.Seconds())
}

// ReconcileAccrued merges the locally accrued seed time with the backend's
// own cumulative seeding counter. The backend survives daemon downtime, the
// local counter survives backend re-adds; the larger of the two is correct.
func ReconcileAccrued(local, backendReported int64) int64 {
	if backendReported > local {
		return backendReported
	}
	return local
}

func ratio(uploaded, downloaded int64) float64 {
	if downloaded <= 0 {
		if uploaded > 0 {
			return 1e9
		}
		return 0
	}
	return float64(uploaded) / float64(downloaded)
}

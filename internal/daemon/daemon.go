package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/notifications"
	"mamlarr/internal/preflight"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
	"mamlarr/internal/workflow"
)

// Daemon coordinates the lifecycle manager and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "mamlarr.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mamlarr daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, check := range preflight.Failed(preflight.RunAll(runCtx, d.cfg, d.workflow.Client())) {
		d.logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String(logging.FieldErrorHint, check.Detail))
	}

	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// AddRelease enqueues a tracker release for acquisition. The job starts
// queued; the lifecycle manager submits it to the backend once an admission
// slot is available. A release already active in the queue is rejected.
func (d *Daemon) AddRelease(ctx context.Context, guid, title, sourceJSON string) (*queue.Job, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add", "release id is required", nil)
	}

	existing, err := d.store.FindByGUID(ctx, guid)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add",
			fmt.Sprintf("release %s already queued as job %d", guid, existing.ID), nil)
	}

	job, err := d.store.NewJob(ctx, guid, title, sourceJSON)
	if err != nil {
		return nil, err
	}
	d.logger.Info("release queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("guid", guid))
	return job, nil
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// RemoveJob detaches a job from the backend and marks it removed, flagging
// abandoned seed obligations.
func (d *Daemon) RemoveJob(ctx context.Context, id int64, deleteData bool) (*workflow.RemoveResult, error) {
	return d.workflow.RemoveJob(ctx, id, deleteData)
}

// RetryFailed resets a failed job back to queued.
func (d *Daemon) RetryFailed(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.RetryFailed(ctx, id)
}

// ClearCompleted removes completed jobs from the queue.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes failed jobs from the queue.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

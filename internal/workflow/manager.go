package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mamlarr/internal/compliance"
	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/notifications"
	"mamlarr/internal/postprocess"
	"mamlarr/internal/queue"
	"mamlarr/internal/torrents"
	"mamlarr/internal/tracker"
)

// Processor runs post-processing for a finished download.
type Processor interface {
	Process(ctx context.Context, job *queue.Job, contentPath string) (string, error)
}

// Manager drives every persisted job through its lifecycle: it polls the
// torrent backend on a fixed interval, applies at most one state transition
// per job per tick, and fans ticks out to a bounded worker pool with per-job
// exclusion.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	client   torrents.Client
	fetcher  tracker.Fetcher
	engine   *compliance.Engine
	pipeline Processor
	notifier notifications.Service

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	workerCount        int
	maxRetries         int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[int64]bool
}

// NewManager constructs a workflow manager with production collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Manager, error) {
	client, err := torrents.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	fetcher, err := tracker.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := compliance.NewEngine(compliance.PolicyFromConfig(cfg), logger)
	pipeline := postprocess.NewPipeline(cfg, logger)
	return NewManagerWithDeps(cfg, store, logger, client, fetcher, engine, pipeline, notifications.NewService(cfg)), nil
}

// NewManagerWithDeps is the injection point for tests.
func NewManagerWithDeps(
	cfg *config.Config,
	store *queue.Store,
	logger *slog.Logger,
	client torrents.Client,
	fetcher tracker.Fetcher,
	engine *compliance.Engine,
	pipeline Processor,
	notifier notifications.Service,
) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workerCount := cfg.Workflow.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		logger:             logging.NewComponentLogger(logger, "workflow"),
		client:             client,
		fetcher:            fetcher,
		engine:             engine,
		pipeline:           pipeline,
		notifier:           notifier,
		pollInterval:       time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workerCount:        workerCount,
		maxRetries:         cfg.Workflow.MaxRetries,
		inflight:           make(map[int64]bool),
	}
}

// Engine exposes the compliance engine for status displays.
func (m *Manager) Engine() *compliance.Engine {
	return m.engine
}

// Client exposes the torrent backend client.
func (m *Manager) Client() torrents.Client {
	return m.client
}

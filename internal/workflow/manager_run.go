package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
)

// Start rebuilds compliance state, verifies the backend, and begins the
// polling loop. A backend that is unreachable at startup is logged but does
// not block: queued jobs retry once the backend returns.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.engine.Rebuild(runCtx, m.store); err != nil {
		m.Stop()
		return err
	}
	if err := m.client.TestConnection(runCtx); err != nil {
		m.logger.Warn("torrent backend unreachable at startup",
			logging.Error(err),
			logging.String(logging.FieldBackend, m.client.Name()),
			logging.String(logging.FieldErrorHint, "jobs stay queued until the backend returns"))
	}

	go m.run(runCtx)
	return nil
}

// Stop terminates the polling loop and waits for in-flight work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	// First tick happens immediately so a restart resumes without waiting a
	// full interval.
	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick dispatches one lifecycle step for every active job to the worker
// pool. A job still being worked from an earlier tick is skipped, so no two
// goroutines ever mutate the same job concurrently. Every record emitted
// during the tick carries the same correlation id.
func (m *Manager) tick(ctx context.Context) {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	jobs, err := m.store.Active(ctx)
	if err != nil {
		m.logger.Error("failed to list active jobs",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_fetch_failed"),
			logging.String(logging.FieldErrorHint, "check job database access"))
		select {
		case <-ctx.Done():
		case <-time.After(m.errorRetryInterval):
		}
		return
	}

	sem := make(chan struct{}, m.workerCount)
	var tickWG sync.WaitGroup
	for _, job := range jobs {
		if !m.claim(job.ID) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			m.release(job.ID)
			tickWG.Wait()
			return
		}
		tickWG.Add(1)
		go func(job *queue.Job) {
			defer func() {
				<-sem
				m.release(job.ID)
				tickWG.Done()
			}()
			m.step(ctx, job)
		}(job)
	}
	tickWG.Wait()
}

func (m *Manager) claim(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[id] {
		return false
	}
	m.inflight[id] = true
	return true
}

func (m *Manager) release(id int64) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// step applies one transition for one job.
func (m *Manager) step(ctx context.Context, job *queue.Job) {
	if ctx.Err() != nil {
		return
	}
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStage(ctx, string(job.Status))
	logger := logging.WithContext(ctx, m.logger)

	var err error
	switch job.Status {
	case queue.StatusQueued:
		err = m.stepQueued(ctx, job, logger)
	case queue.StatusDownloading:
		err = m.stepDownloading(ctx, job, logger)
	case queue.StatusSeeding:
		err = m.stepSeeding(ctx, job, logger)
	case queue.StatusProcessing:
		err = m.stepProcessing(ctx, job, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.handleStepError(ctx, job, logger, err)
	}
}

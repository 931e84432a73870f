package workflow

import (
	"context"

	"mamlarr/internal/compliance"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
)

// StatusSummary represents lightweight daemon diagnostics.
type StatusSummary struct {
	Running      bool
	Backend      string
	BackendReady bool
	BackendError string
	QueueStats   map[queue.Status]int
	Compliance   compliance.Snapshot
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:    running,
		Backend:    m.client.Name(),
		QueueStats: stats,
		Compliance: m.engine.Snapshot(),
	}
	if err := m.client.TestConnection(ctx); err != nil {
		summary.BackendError = err.Error()
	} else {
		summary.BackendReady = true
	}
	return summary
}

package testsupport

import (
	"path/filepath"
	"testing"

	"mamlarr/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CoverCacheDir = filepath.Join(base, "covers")
	cfgVal.Tracker.BaseURL = "http://127.0.0.1:0"
	cfgVal.Tracker.SessionID = "test-session"
	cfgVal.QBittorrent.URL = "http://127.0.0.1:0"
	cfgVal.Workflow.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the torrent backend on the test config.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Torrents.Backend = backend
	}
}

// WithSeedPolicy overrides the seeding compliance knobs on the test config.
func WithSeedPolicy(targetHours, ratioFloor float64, maxUnsatisfied int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Seeding.TargetSeedHours = targetHours
		b.cfg.Seeding.RatioFloor = ratioFloor
		b.cfg.Seeding.MaxUnsatisfied = maxUnsatisfied
	}
}

// WithNtfyTopic enables ntfy notifications against the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

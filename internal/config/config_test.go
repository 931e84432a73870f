package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mamlarr/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[qbittorrent]
url = "http://127.0.0.1:8080"
`)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Torrents.Backend != config.BackendQBittorrent {
		t.Errorf("backend = %q", cfg.Torrents.Backend)
	}
	if cfg.Workflow.PollInterval != 30 {
		t.Errorf("poll interval = %d", cfg.Workflow.PollInterval)
	}
	if cfg.Seeding.RatioScope != config.RatioScopeAccount {
		t.Errorf("ratio scope = %q", cfg.Seeding.RatioScope)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Errorf("staging dir not expanded: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
[torrents]
backend = "rtorrent"
`)
	if _, _, _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "torrents.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestLoadRequiresBackendURL(t *testing.T) {
	path := writeConfig(t, `
[torrents]
backend = "transmission"
`)
	if _, _, _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "transmission.url") {
		t.Fatalf("expected transmission.url error, got %v", err)
	}
}

func TestLoadRejectsBadRatioScope(t *testing.T) {
	path := writeConfig(t, `
[qbittorrent]
url = "http://127.0.0.1:8080"

[seeding]
ratio_scope = "global"
`)
	if _, _, _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "ratio_scope") {
		t.Fatalf("expected ratio_scope error, got %v", err)
	}
}

func TestTargetSeedSeconds(t *testing.T) {
	cfg := config.Default()
	cfg.Seeding.TargetSeedHours = 0.5
	if got := cfg.TargetSeedSeconds(); got != 1800 {
		t.Fatalf("TargetSeedSeconds = %d", got)
	}
}

func TestWriteSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample config not detected")
	}
	if cfg.Torrents.Backend != config.BackendQBittorrent {
		t.Errorf("sample backend = %q", cfg.Torrents.Backend)
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir    string `toml:"staging_dir"`
	LibraryDir    string `toml:"library_dir"`
	LogDir        string `toml:"log_dir"`
	CoverCacheDir string `toml:"cover_cache_dir"`
}

// Tracker contains configuration for the private tracker collaborator that
// resolves release identifiers into torrent payload bytes.
type Tracker struct {
	BaseURL          string `toml:"base_url"`
	SessionID        string `toml:"session_id"`
	DownloadEndpoint string `toml:"download_endpoint"`
	RequestTimeout   int    `toml:"request_timeout"`
}

// Torrents selects and tunes the active torrent backend.
type Torrents struct {
	Backend        string `toml:"backend"`
	RequestTimeout int    `toml:"request_timeout"`
	RetryAttempts  int    `toml:"retry_attempts"`
	RetryDelayMS   int    `toml:"retry_delay_ms"`
	RetryJitterMS  int    `toml:"retry_jitter_ms"`
	DeleteData     bool   `toml:"delete_data_on_complete"`
}

// QBittorrent contains connection settings for the qBittorrent WebUI backend.
type QBittorrent struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Transmission contains connection settings for the Transmission RPC backend.
type Transmission struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Seeding contains the tracker-compliance policy knobs.
type Seeding struct {
	TargetSeedHours float64 `toml:"target_seed_hours"`
	RatioFloor      float64 `toml:"ratio_floor"`
	MaxUnsatisfied  int     `toml:"max_unsatisfied"`
	RatioScope      string  `toml:"ratio_scope"`
}

// PostProcess contains configuration for the normalization pipeline.
type PostProcess struct {
	EnableMerge  bool   `toml:"enable_merge"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
	ToolTimeout  int    `toml:"tool_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Downloads      bool   `toml:"downloads"`
	Completion     bool   `toml:"completion"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon timing and concurrency settings.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	WorkerCount        int `toml:"worker_count"`
	MaxRetries         int `toml:"max_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mamlarr.
//
// Configuration sections by subsystem:
//   - Paths: staging, library, log, and cover cache directories
//   - Tracker: payload download collaborator
//   - Torrents: active backend selection, timeouts, retry budget
//   - QBittorrent / Transmission: backend connection settings
//   - Seeding: compliance policy (target hours, ratio floor, admission ceiling)
//   - PostProcess: ffmpeg merge and tagging settings
//   - Notifications: ntfy push notification settings
//   - Workflow: polling interval, worker pool size, retry budget
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tracker       Tracker       `toml:"tracker"`
	Torrents      Torrents      `toml:"torrents"`
	QBittorrent   QBittorrent   `toml:"qbittorrent"`
	Transmission  Transmission  `toml:"transmission"`
	Seeding       Seeding       `toml:"seeding"`
	PostProcess   PostProcess   `toml:"postprocess"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mamlarr/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon requires.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.CoverCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// TargetSeedSeconds converts the configured seed target into seconds.
func (c *Config) TargetSeedSeconds() int64 {
	return int64(c.Seeding.TargetSeedHours * 3600)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

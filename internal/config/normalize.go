package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTracker()
	c.normalizeTorrents()
	c.normalizeSeeding()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CoverCacheDir) == "" {
		c.Paths.CoverCacheDir = defaultCoverCacheDir
	}
	if c.Paths.CoverCacheDir, err = expandPath(c.Paths.CoverCacheDir); err != nil {
		return fmt.Errorf("paths.cover_cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTracker() {
	c.Tracker.BaseURL = strings.TrimRight(strings.TrimSpace(c.Tracker.BaseURL), "/")
	if strings.TrimSpace(c.Tracker.DownloadEndpoint) == "" {
		c.Tracker.DownloadEndpoint = defaultDownloadEndpoint
	}
	if c.Tracker.RequestTimeout <= 0 {
		c.Tracker.RequestTimeout = defaultTrackerTimeout
	}
}

func (c *Config) normalizeTorrents() {
	c.Torrents.Backend = strings.ToLower(strings.TrimSpace(c.Torrents.Backend))
	if c.Torrents.Backend == "" {
		c.Torrents.Backend = defaultBackend
	}
	if c.Torrents.RequestTimeout <= 0 {
		c.Torrents.RequestTimeout = defaultBackendTimeout
	}
	if c.Torrents.RetryAttempts <= 0 {
		c.Torrents.RetryAttempts = defaultRetryAttempts
	}
	if c.Torrents.RetryDelayMS <= 0 {
		c.Torrents.RetryDelayMS = defaultRetryDelayMS
	}
	if c.Torrents.RetryJitterMS < 0 {
		c.Torrents.RetryJitterMS = defaultRetryJitterMS
	}
	c.QBittorrent.URL = strings.TrimRight(strings.TrimSpace(c.QBittorrent.URL), "/")
	c.Transmission.URL = strings.TrimSpace(c.Transmission.URL)
}

func (c *Config) normalizeSeeding() {
	c.Seeding.RatioScope = strings.ToLower(strings.TrimSpace(c.Seeding.RatioScope))
	if c.Seeding.RatioScope == "" {
		c.Seeding.RatioScope = defaultRatioScope
	}
	if c.Seeding.MaxUnsatisfied <= 0 {
		c.Seeding.MaxUnsatisfied = defaultMaxUnsatisfied
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollInterval <= 0 {
		c.Workflow.PollInterval = defaultPollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetry
	}
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount
	}
	if c.Workflow.MaxRetries <= 0 {
		c.Workflow.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

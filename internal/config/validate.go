package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTorrents(); err != nil {
		return err
	}
	if err := c.validateSeeding(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTorrents() error {
	switch c.Torrents.Backend {
	case BackendQBittorrent:
		if c.QBittorrent.URL == "" {
			return errors.New("qbittorrent.url must be set when torrents.backend is \"qbittorrent\"")
		}
	case BackendTransmission:
		if c.Transmission.URL == "" {
			return errors.New("transmission.url must be set when torrents.backend is \"transmission\"")
		}
	default:
		return fmt.Errorf("torrents.backend: unsupported value %q (expected %q or %q)",
			c.Torrents.Backend, BackendQBittorrent, BackendTransmission)
	}
	return nil
}

func (c *Config) validateSeeding() error {
	if c.Seeding.TargetSeedHours < 0 {
		return errors.New("seeding.target_seed_hours must not be negative")
	}
	if c.Seeding.RatioFloor < 0 {
		return errors.New("seeding.ratio_floor must not be negative")
	}
	switch c.Seeding.RatioScope {
	case RatioScopeAccount, RatioScopeJob:
	default:
		return fmt.Errorf("seeding.ratio_scope: unsupported value %q (expected %q or %q)",
			c.Seeding.RatioScope, RatioScopeAccount, RatioScopeJob)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval < 1 {
		return errors.New("workflow.poll_interval must be at least 1 second")
	}
	if c.Workflow.WorkerCount < 1 {
		return errors.New("workflow.worker_count must be at least 1")
	}
	return nil
}

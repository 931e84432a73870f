// Package config loads, normalizes, and validates the TOML configuration
// that drives the daemon: directories, tracker access, torrent backend
// selection, seeding compliance policy, post-processing, notifications, and
// workflow timing.
package config

// Package logging centralizes slog logger construction and the structured
// field conventions used across the daemon.
//
// Loggers are built once at startup from configuration (console or JSON
// format, optional log file fan-out) and flow through the application by
// explicit injection. Helpers in this package stamp standardized keys
// (component, job_id, stage, correlation_id) so queue events remain
// greppable across components.
package logging

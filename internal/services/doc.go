// Package services defines shared utilities consumed by the lifecycle
// manager and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the retry semantics the lifecycle manager enforces (transient
//     backend faults, permanent rejections, compliance blocks, pipeline
//     failures, corruption).
//
// Use these helpers when wiring new lifecycle logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services

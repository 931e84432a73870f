// Package preflight provides readiness checks for the filesystem paths,
// external binaries, and services mamlarr depends on.
//
// The daemon runs RunAll at startup and logs failures as warnings: a missing
// ffmpeg or an unreachable backend does not stop the daemon, but the operator
// should know before jobs pile up. The CLI "mamlarr status" command renders
// the same checks for interactive diagnosis.
package preflight

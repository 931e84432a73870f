package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientBackend marks network, auth, and timeout failures from a
	// torrent backend. Retried with backoff up to the configured budget.
	ErrTransientBackend = errors.New("transient backend error")
	// ErrPermanentBackend marks malformed requests or unsupported operations.
	// Never retried; the job fails immediately.
	ErrPermanentBackend = errors.New("permanent backend error")
	// ErrCompliance marks transitions blocked by seeding policy. The job is
	// not failed; it stays in its current state until conditions change.
	ErrCompliance = errors.New("compliance violation")
	// ErrPostProcess marks a post-processing step failure. The pipeline is
	// retried from the start with raw inputs preserved.
	ErrPostProcess = errors.New("post-processing error")
	// ErrCorruption marks output that failed post-write verification.
	ErrCorruption = errors.New("data corruption")
	// ErrValidation marks bad input that no retry can fix.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Failure reason codes persisted with failed jobs.
const (
	ReasonBackendUnreachable = "backend_unreachable"
	ReasonBackendRejected    = "backend_rejected"
	ReasonPostProcessFailed  = "postprocess_failed"
	ReasonCorruptionDetected = "corruption_detected"
	ReasonTrackerUnreachable = "tracker_unreachable"
	ReasonUnknown            = "unknown"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientBackend
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the lifecycle manager should retry after err.
// Compliance blocks are not retryable in the backoff sense: they resolve on
// their own when policy conditions change.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrPermanentBackend),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrCompliance):
		return false
	default:
		return true
	}
}

// FailureReason maps an error to the structured reason code persisted with a
// failed job.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrPermanentBackend):
		return ReasonBackendRejected
	case errors.Is(err, ErrTransientBackend):
		return ReasonBackendUnreachable
	case errors.Is(err, ErrCorruption):
		return ReasonCorruptionDetected
	case errors.Is(err, ErrPostProcess):
		return ReasonPostProcessFailed
	default:
		return ReasonUnknown
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

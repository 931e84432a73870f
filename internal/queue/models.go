package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a download job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRemoved     Status = "removed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusSeeding,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusRemoved,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusRemoved:   {},
}

// ActiveStatuses returns the statuses the lifecycle manager polls.
func ActiveStatuses() []Status {
	return []Status{StatusQueued, StatusDownloading, StatusSeeding, StatusProcessing}
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total       int
	Queued      int
	Downloading int
	Seeding     int
	Processing  int
	Completed   int
	Failed      int
}

// Job represents a download job persisted in SQLite.
type Job struct {
	ID                 int64
	GUID               string
	Title              string
	Status             Status
	TorrentHash        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DownloadedAt       *time.Time
	SeedStartedAt      *time.Time
	LastPollAt         *time.Time
	SeedAccruedSeconds int64
	UploadedBytes      int64
	DownloadedBytes    int64
	RetryCount         int
	NextRetryAt        *time.Time
	ErrorMessage       string
	FailureReason      string
	DestinationPath    string
	SourceJSON         string
	MetadataJSON       string
}

// IsTerminal reports whether the job accepts no further transitions.
func (j Job) IsTerminal() bool {
	return IsTerminal(j.Status)
}

// Satisfied reports whether the job has met the required seed duration.
// Jobs that never reached seeding and already finished (completed, removed,
// failed after processing) count as satisfied for admission purposes.
func (j Job) Satisfied(targetSeconds int64) bool {
	if j.SeedAccruedSeconds >= targetSeconds {
		return true
	}
	return j.IsTerminal()
}

// Ratio returns the job's own uploaded/downloaded ratio. A job with nothing
// downloaded reports an infinite ratio as a very large value so comparisons
// against any floor succeed.
func (j Job) Ratio() float64 {
	if j.DownloadedBytes <= 0 {
		if j.UploadedBytes > 0 {
			return 1e9
		}
		return 0
	}
	return float64(j.UploadedBytes) / float64(j.DownloadedBytes)
}

// SetFailed marks the job as failed with the given message and reason code.
func (j *Job) SetFailed(reason, message string) {
	j.Status = StatusFailed
	j.FailureReason = reason
	j.ErrorMessage = message
	j.NextRetryAt = nil
}

// ScheduleRetry records one more failed attempt and the next eligible time.
func (j *Job) ScheduleRetry(next time.Time, message string) {
	j.RetryCount++
	j.NextRetryAt = &next
	j.ErrorMessage = message
}

// ClearRetry resets retry state after a successful transition.
func (j *Job) ClearRetry() {
	j.RetryCount = 0
	j.NextRetryAt = nil
	j.ErrorMessage = ""
}

// RetryEligible reports whether the job may be attempted at now.
func (j Job) RetryEligible(now time.Time) bool {
	return j.NextRetryAt == nil || !now.Before(*j.NextRetryAt)
}

package main

import (
	"fmt"

	"mamlarr/internal/queue"
)

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", seconds)
}

func formatRatio(ratio float64) string {
	if ratio >= 1e6 {
		return "inf"
	}
	return fmt.Sprintf("%.2f", ratio)
}

func formatSeedProgress(job *queue.Job, targetSeconds int64) string {
	if job.Status == queue.StatusQueued || job.Status == queue.StatusDownloading {
		return "-"
	}
	if targetSeconds <= 0 {
		return formatDuration(job.SeedAccruedSeconds)
	}
	return fmt.Sprintf("%s / %s", formatDuration(job.SeedAccruedSeconds), formatDuration(targetSeconds))
}

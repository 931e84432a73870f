package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mamlarr/internal/config"
)

const userAgent = "Mamlarr-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyDownloadStarted(ctx context.Context, title string) error
	NotifyDownloadCompleted(ctx context.Context, title string) error
	NotifySeedingSatisfied(ctx context.Context, title string, seedHours float64) error
	NotifyProcessingCompleted(ctx context.Context, title, finalPath string) error
	NotifyJobFailed(ctx context.Context, title string, err error) error
	NotifyComplianceBlocked(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		downloads:  cfg.Notifications.Downloads,
		completion: cfg.Notifications.Completion,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	downloads  bool
	completion bool
	errors     bool
}

func (n *ntfyService) NotifyDownloadStarted(ctx context.Context, title string) error {
	if !n.downloads {
		return nil
	}
	data := payload{
		title:   "Mamlarr - Download Started",
		message: fmt.Sprintf("Started downloading: %s", strings.TrimSpace(title)),
		tags:    []string{"mamlarr", "download", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadCompleted(ctx context.Context, title string) error {
	if !n.downloads {
		return nil
	}
	data := payload{
		title:   "Mamlarr - Download Complete",
		message: fmt.Sprintf("Download complete, now seeding: %s", strings.TrimSpace(title)),
		tags:    []string{"mamlarr", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySeedingSatisfied(ctx context.Context, title string, seedHours float64) error {
	if !n.downloads {
		return nil
	}
	data := payload{
		title:   "Mamlarr - Seeding Satisfied",
		message: fmt.Sprintf("Seed obligation met after %.1fh: %s", seedHours, strings.TrimSpace(title)),
		tags:    []string{"mamlarr", "seeding", "satisfied"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessingCompleted(ctx context.Context, title, finalPath string) error {
	if !n.completion {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Added to library: %s", title)
	if finalPath = strings.TrimSpace(finalPath); finalPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, finalPath)
	}
	data := payload{
		title:    "Mamlarr - Complete",
		message:  message,
		tags:     []string{"mamlarr", "workflow", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Job failed")
	if title = strings.TrimSpace(title); title != "" {
		builder.WriteString(": ")
		builder.WriteString(title)
	}
	builder.WriteString("\n")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown error")
	}

	data := payload{
		title:    "Mamlarr - Error",
		message:  builder.String(),
		tags:     []string{"mamlarr", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyComplianceBlocked(ctx context.Context, title, reason string) error {
	if !n.errors {
		return nil
	}
	data := payload{
		title:   "Mamlarr - Compliance Hold",
		message: fmt.Sprintf("Held by seeding policy: %s\n%s", strings.TrimSpace(title), strings.TrimSpace(reason)),
		tags:    []string{"mamlarr", "compliance", "hold"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Mamlarr - Test",
		message:  "Notification system test",
		tags:     []string{"mamlarr", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDownloadStarted(context.Context, string) error               { return nil }
func (noopService) NotifyDownloadCompleted(context.Context, string) error             { return nil }
func (noopService) NotifySeedingSatisfied(context.Context, string, float64) error     { return nil }
func (noopService) NotifyProcessingCompleted(context.Context, string, string) error   { return nil }
func (noopService) NotifyJobFailed(context.Context, string, error) error              { return nil }
func (noopService) NotifyComplianceBlocked(context.Context, string, string) error     { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }

// Package tracker fetches .torrent payloads from the private tracker by
// release identifier, authenticating with the account session cookie.
package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/services"
)

// Fetcher resolves a release identifier into raw .torrent bytes.
type Fetcher interface {
	FetchPayload(ctx context.Context, releaseID string) ([]byte, error)
}

// maxPayloadBytes caps a single .torrent download. Real metainfo files are
// tens of kilobytes; anything beyond this is a misbehaving endpoint.
const maxPayloadBytes = 8 << 20

type httpFetcher struct {
	baseURL  string
	endpoint string
	session  string
	http     *http.Client
	logger   *slog.Logger
}

// New builds the HTTP tracker fetcher from configuration.
func New(cfg *config.Config, logger *slog.Logger) (Fetcher, error) {
	if strings.TrimSpace(cfg.Tracker.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "new", "tracker.base_url is not set", nil)
	}
	timeout := cfg.Tracker.RequestTimeout
	if timeout <= 0 {
		timeout = 30
	}
	return &httpFetcher{
		baseURL:  strings.TrimRight(cfg.Tracker.BaseURL, "/"),
		endpoint: cfg.Tracker.DownloadEndpoint,
		session:  cfg.Tracker.SessionID,
		http:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		logger:   logging.NewComponentLogger(logger, "tracker"),
	}, nil
}

func (f *httpFetcher) FetchPayload(ctx context.Context, releaseID string) ([]byte, error) {
	if strings.TrimSpace(releaseID) == "" {
		return nil, services.Wrap(services.ErrValidation, "tracker", "fetch", "empty release id", nil)
	}

	endpoint := f.endpoint
	if endpoint == "" {
		endpoint = "/tor/download.php?tid={id}"
	}
	escaped := url.QueryEscape(releaseID)
	var requestURL string
	if strings.Contains(endpoint, "{id}") {
		requestURL = f.baseURL + strings.ReplaceAll(endpoint, "{id}", escaped)
	} else {
		requestURL = fmt.Sprintf("%s%s?%s", f.baseURL, endpoint, escaped)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanentBackend, "tracker", "fetch", "build request", err)
	}
	if f.session != "" {
		req.AddCookie(&http.Cookie{Name: "mam_id", Value: f.session})
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransientBackend, "tracker", "fetch", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrTransientBackend, "tracker", "fetch",
			fmt.Sprintf("session rejected with status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrPermanentBackend, "tracker", "fetch",
			fmt.Sprintf("release %s not found", releaseID), nil)
	case resp.StatusCode >= 500:
		return nil, services.Wrap(services.ErrTransientBackend, "tracker", "fetch",
			fmt.Sprintf("server error %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, services.Wrap(services.ErrPermanentBackend, "tracker", "fetch",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransientBackend, "tracker", "fetch", "read payload", err)
	}
	if len(payload) > maxPayloadBytes {
		return nil, services.Wrap(services.ErrPermanentBackend, "tracker", "fetch", "payload exceeds size limit", nil)
	}
	// Trackers answer HTML error pages with status 200 when the session has
	// expired. Bencoded metainfo always starts with a dictionary.
	if len(payload) == 0 || payload[0] != 'd' {
		return nil, services.Wrap(services.ErrTransientBackend, "tracker", "fetch",
			"response is not bencoded metainfo (session expired?)", nil)
	}

	f.logger.Debug("payload fetched",
		logging.String("release_id", releaseID),
		logging.Int("bytes", len(payload)))
	return payload, nil
}

package torrents

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/services"
)

// Transmission RPC torrent status codes.
const (
	transmissionStatusStopped      = 0
	transmissionStatusQueuedVerify = 1
	transmissionStatusVerifying    = 2
	transmissionStatusQueuedDl     = 3
	transmissionStatusDownloading  = 4
	transmissionStatusQueuedSeed   = 5
	transmissionStatusSeeding      = 6
)

const transmissionSessionHeader = "X-Transmission-Session-Id"

var transmissionGetFields = []string{
	"id", "hashString", "name", "status", "percentDone", "isFinished",
	"uploadedEver", "downloadedEver", "secondsSeeding", "downloadDir",
}

// transmissionClient speaks Transmission's JSON RPC over HTTP. The RPC has no
// maintained client in this codebase's dependency set, so the protocol is
// implemented directly: a single POST endpoint, basic auth, and a CSRF
// session id renegotiated on every 409 response.
type transmissionClient struct {
	url      string
	username string
	password string
	http     *http.Client
	policy   RetryPolicy
	logger   *slog.Logger

	sessionMu sync.Mutex
	sessionID string
}

// NewTransmission builds a Transmission-backed client from configuration.
func NewTransmission(cfg *config.Config, logger *slog.Logger) (Client, error) {
	if cfg.Transmission.URL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transmission", "new", "transmission.url is not set", nil)
	}
	timeout := cfg.Torrents.RequestTimeout
	if timeout <= 0 {
		timeout = 30
	}
	return &transmissionClient{
		url:      cfg.Transmission.URL,
		username: cfg.Transmission.Username,
		password: cfg.Transmission.Password,
		http:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		policy:   retryPolicyFromConfig(cfg),
		logger:   logger,
	}, nil
}

func (t *transmissionClient) Name() string {
	return config.BackendTransmission
}

type transmissionRequest struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type transmissionResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call performs one RPC round trip, renegotiating the session id once when
// the server answers 409 Conflict.
func (t *transmissionClient) call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(transmissionRequest{Method: method, Arguments: args})
	if err != nil {
		return nil, services.Wrap(services.ErrPermanentBackend, "transmission", method, "encode request", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return nil, services.Wrap(services.ErrPermanentBackend, "transmission", method, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.username != "" {
			req.SetBasicAuth(t.username, t.password)
		}
		if session := t.currentSession(); session != "" {
			req.Header.Set(transmissionSessionHeader, session)
		}

		resp, err := t.http.Do(req)
		if err != nil {
			return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "rpc request failed", err)
		}

		if resp.StatusCode == http.StatusConflict {
			session := resp.Header.Get(transmissionSessionHeader)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if session == "" {
				return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "409 without session id", nil)
			}
			t.setSession(session)
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "read response", readErr)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "authentication rejected", nil)
		case resp.StatusCode >= 500:
			return nil, services.Wrap(services.ErrTransientBackend, "transmission", method,
				fmt.Sprintf("server error %d", resp.StatusCode), nil)
		case resp.StatusCode != http.StatusOK:
			return nil, services.Wrap(services.ErrPermanentBackend, "transmission", method,
				fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}

		var rpcResp transmissionResponse
		if err := json.Unmarshal(payload, &rpcResp); err != nil {
			return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "decode response", err)
		}
		if rpcResp.Result != "success" {
			return nil, services.Wrap(services.ErrPermanentBackend, "transmission", method,
				fmt.Sprintf("rpc result %q", rpcResp.Result), nil)
		}
		return rpcResp.Arguments, nil
	}
	return nil, services.Wrap(services.ErrTransientBackend, "transmission", method, "session negotiation did not converge", nil)
}

func (t *transmissionClient) currentSession() string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	return t.sessionID
}

func (t *transmissionClient) setSession(id string) {
	t.sessionMu.Lock()
	t.sessionID = id
	t.sessionMu.Unlock()
}

func (t *transmissionClient) Add(ctx context.Context, payload []byte, category string) (Handle, error) {
	parsed, err := ParsePayload(payload)
	if err != nil {
		return "", err
	}
	args := map[string]any{
		"metainfo": base64.StdEncoding.EncodeToString(payload),
	}

	var added struct {
		TorrentAdded struct {
			HashString string `json:"hashString"`
		} `json:"torrent-added"`
		TorrentDuplicate struct {
			HashString string `json:"hashString"`
		} `json:"torrent-duplicate"`
	}
	err = withRetry(ctx, t.policy, func() error {
		raw, callErr := t.call(ctx, "torrent-add", args)
		if callErr != nil {
			return callErr
		}
		return json.Unmarshal(raw, &added)
	})
	if err != nil {
		return "", err
	}

	reported := added.TorrentAdded.HashString
	if reported == "" {
		reported = added.TorrentDuplicate.HashString
	}
	if reported != "" && NormalizeHandle(reported) != parsed.Handle {
		return "", services.Wrap(services.ErrPermanentBackend, "transmission", "add",
			"backend reported a different infohash than the submitted payload", nil)
	}
	t.logger.Info("torrent added",
		logging.String(logging.FieldBackend, t.Name()),
		logging.String("hash", parsed.Handle.String()),
		logging.String("name", parsed.Name))
	return parsed.Handle, nil
}

type transmissionTorrent struct {
	ID             int64   `json:"id"`
	HashString     string  `json:"hashString"`
	Name           string  `json:"name"`
	Status         int     `json:"status"`
	PercentDone    float64 `json:"percentDone"`
	IsFinished     bool    `json:"isFinished"`
	UploadedEver   int64   `json:"uploadedEver"`
	DownloadedEver int64   `json:"downloadedEver"`
	SecondsSeeding int64   `json:"secondsSeeding"`
	DownloadDir    string  `json:"downloadDir"`
}

func (t *transmissionClient) Status(ctx context.Context, handle Handle) (*Status, error) {
	args := map[string]any{
		"ids":    []string{handle.String()},
		"fields": transmissionGetFields,
	}
	var status *Status
	err := withRetry(ctx, t.policy, func() error {
		raw, callErr := t.call(ctx, "torrent-get", args)
		if callErr != nil {
			return callErr
		}
		var result struct {
			Torrents []transmissionTorrent `json:"torrents"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return services.Wrap(services.ErrTransientBackend, "transmission", "torrent-get", "decode arguments", err)
		}
		if len(result.Torrents) == 0 {
			return services.Wrap(services.ErrPermanentBackend, "transmission", "torrent-get", handle.String(), ErrTorrentNotFound)
		}
		status = fromTransmissionTorrent(result.Torrents[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (t *transmissionClient) Remove(ctx context.Context, handle Handle, deleteData bool) error {
	args := map[string]any{
		"ids":               []string{handle.String()},
		"delete-local-data": deleteData,
	}
	return withRetry(ctx, t.policy, func() error {
		_, err := t.call(ctx, "torrent-remove", args)
		return err
	})
}

func (t *transmissionClient) TestConnection(ctx context.Context) error {
	raw, err := t.call(ctx, "session-get", nil)
	if err != nil {
		return err
	}
	var session struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return services.Wrap(services.ErrTransientBackend, "transmission", "session-get", "decode session", err)
	}
	t.logger.Debug("backend reachable",
		logging.String(logging.FieldBackend, t.Name()),
		logging.String("version", session.Version))
	return nil
}

func fromTransmissionTorrent(t transmissionTorrent) *Status {
	seeding := t.Status == transmissionStatusSeeding || t.Status == transmissionStatusQueuedSeed
	return &Status{
		Hash:            NormalizeHandle(t.HashString),
		Name:            t.Name,
		State:           transmissionStateName(t.Status),
		Progress:        t.PercentDone,
		Done:            t.PercentDone >= 1.0 || t.IsFinished || seeding,
		Seeding:         seeding,
		UploadedBytes:   t.UploadedEver,
		DownloadedBytes: t.DownloadedEver,
		SeedingSeconds:  t.SecondsSeeding,
		ContentPath:     t.DownloadDir,
		SavePath:        t.DownloadDir,
	}
}

func transmissionStateName(status int) string {
	switch status {
	case transmissionStatusStopped:
		return "stopped"
	case transmissionStatusQueuedVerify:
		return "queuedVerify"
	case transmissionStatusVerifying:
		return "verifying"
	case transmissionStatusQueuedDl:
		return "queuedDownload"
	case transmissionStatusDownloading:
		return "downloading"
	case transmissionStatusQueuedSeed:
		return "queuedSeed"
	case transmissionStatusSeeding:
		return "seeding"
	default:
		return fmt.Sprintf("unknown(%d)", status)
	}
}

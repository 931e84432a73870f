package torrents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/services"
)

// qbittorrentClient drives the qBittorrent WebUI API (v2).
type qbittorrentClient struct {
	client *qbt.Client
	policy RetryPolicy
	logger *slog.Logger

	loginMu  sync.Mutex
	loggedIn bool
}

// NewQBittorrent builds a qBittorrent-backed client from configuration. The
// connection is not exercised until the first call; use TestConnection to
// verify reachability up front.
func NewQBittorrent(cfg *config.Config, logger *slog.Logger) (Client, error) {
	if cfg.QBittorrent.URL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "qbittorrent", "new", "qbittorrent.url is not set", nil)
	}
	timeout := cfg.Torrents.RequestTimeout
	if timeout <= 0 {
		timeout = 30
	}
	client := qbt.NewClient(qbt.Config{
		Host:     cfg.QBittorrent.URL,
		Username: cfg.QBittorrent.Username,
		Password: cfg.QBittorrent.Password,
		Timeout:  timeout,
	})
	return &qbittorrentClient{
		client: client,
		policy: retryPolicyFromConfig(cfg),
		logger: logger,
	}, nil
}

func retryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.Torrents.RetryAttempts > 0 {
		policy.Attempts = uint(cfg.Torrents.RetryAttempts)
	}
	if cfg.Torrents.RetryDelayMS > 0 {
		policy.Delay = time.Duration(cfg.Torrents.RetryDelayMS) * time.Millisecond
	}
	if cfg.Torrents.RetryJitterMS > 0 {
		policy.Jitter = time.Duration(cfg.Torrents.RetryJitterMS) * time.Millisecond
	}
	return policy
}

func (q *qbittorrentClient) Name() string {
	return config.BackendQBittorrent
}

func (q *qbittorrentClient) ensureLogin(ctx context.Context) error {
	q.loginMu.Lock()
	defer q.loginMu.Unlock()
	if q.loggedIn {
		return nil
	}
	if err := q.client.LoginCtx(ctx); err != nil {
		return services.Wrap(services.ErrTransientBackend, "qbittorrent", "login", "authentication failed", err)
	}
	q.loggedIn = true
	return nil
}

func (q *qbittorrentClient) Add(ctx context.Context, payload []byte, category string) (Handle, error) {
	parsed, err := ParsePayload(payload)
	if err != nil {
		return "", err
	}
	options := map[string]string{}
	if category != "" {
		options["category"] = category
	}
	err = withRetry(ctx, q.policy, func() error {
		if err := q.ensureLogin(ctx); err != nil {
			return err
		}
		if err := q.client.AddTorrentFromMemoryCtx(ctx, payload, options); err != nil {
			return services.Wrap(services.ErrTransientBackend, "qbittorrent", "add", "add torrent failed", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	q.logger.Info("torrent added",
		logging.String(logging.FieldBackend, q.Name()),
		logging.String("hash", parsed.Handle.String()),
		logging.String("name", parsed.Name))
	return parsed.Handle, nil
}

func (q *qbittorrentClient) Status(ctx context.Context, handle Handle) (*Status, error) {
	var status *Status
	err := withRetry(ctx, q.policy, func() error {
		if err := q.ensureLogin(ctx); err != nil {
			return err
		}
		list, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{handle.String()}})
		if err != nil {
			return services.Wrap(services.ErrTransientBackend, "qbittorrent", "status", "torrent lookup failed", err)
		}
		if len(list) == 0 {
			return services.Wrap(services.ErrPermanentBackend, "qbittorrent", "status", handle.String(), ErrTorrentNotFound)
		}
		status = fromQbtTorrent(list[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (q *qbittorrentClient) Remove(ctx context.Context, handle Handle, deleteData bool) error {
	return withRetry(ctx, q.policy, func() error {
		if err := q.ensureLogin(ctx); err != nil {
			return err
		}
		if err := q.client.DeleteTorrentsCtx(ctx, []string{handle.String()}, deleteData); err != nil {
			return services.Wrap(services.ErrTransientBackend, "qbittorrent", "remove", "delete torrent failed", err)
		}
		return nil
	})
}

func (q *qbittorrentClient) TestConnection(ctx context.Context) error {
	if err := q.ensureLogin(ctx); err != nil {
		return err
	}
	version, err := q.client.GetAppVersionCtx(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransientBackend, "qbittorrent", "test", "version probe failed", err)
	}
	q.logger.Debug("backend reachable",
		logging.String(logging.FieldBackend, q.Name()),
		logging.String("version", version))
	return nil
}

func fromQbtTorrent(t qbt.Torrent) *Status {
	state := string(t.State)
	return &Status{
		Hash:            NormalizeHandle(t.Hash),
		Name:            t.Name,
		State:           state,
		Progress:        t.Progress,
		Done:            t.Progress >= 1.0,
		Seeding:         isQbtSeedingState(t.State),
		UploadedBytes:   t.Uploaded,
		DownloadedBytes: t.Downloaded,
		SeedingSeconds:  t.SeedingTime,
		ContentPath:     t.ContentPath,
		SavePath:        t.SavePath,
	}
}

// isQbtSeedingState mirrors the WebUI's "seeding" filter bucket.
func isQbtSeedingState(state qbt.TorrentState) bool {
	switch state {
	case qbt.TorrentStateUploading,
		qbt.TorrentStateStalledUp,
		qbt.TorrentStateQueuedUp,
		qbt.TorrentStateCheckingUp,
		qbt.TorrentStateForcedUp:
		return true
	default:
		return false
	}
}

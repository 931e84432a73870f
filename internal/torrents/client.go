package torrents

import (
	"context"
	"strings"
)

// Handle identifies a torrent across backends by its lowercase hex infohash.
type Handle string

// Valid reports whether the handle carries a plausible infohash.
func (h Handle) Valid() bool {
	return len(h) == 40 || len(h) == 64
}

func (h Handle) String() string {
	return string(h)
}

// NormalizeHandle lowers a backend-reported hash into canonical handle form.
func NormalizeHandle(hash string) Handle {
	return Handle(strings.ToLower(strings.TrimSpace(hash)))
}

// Status is a backend-neutral snapshot of a managed torrent.
type Status struct {
	Hash            Handle
	Name            string
	State           string
	Progress        float64
	Done            bool
	Seeding         bool
	UploadedBytes   int64
	DownloadedBytes int64
	SeedingSeconds  int64
	ContentPath     string
	SavePath        string
}

// Client abstracts the torrent backend the lifecycle manager drives.
// Implementations exist for qBittorrent's WebUI API and Transmission's RPC.
type Client interface {
	// Add submits raw .torrent metainfo and returns the torrent's handle.
	Add(ctx context.Context, payload []byte, category string) (Handle, error)
	// Status looks up a torrent by handle. A torrent unknown to the backend
	// returns ErrTorrentNotFound wrapped as a permanent backend error.
	Status(ctx context.Context, handle Handle) (*Status, error)
	// Remove deletes the torrent, optionally with its downloaded data.
	Remove(ctx context.Context, handle Handle, deleteData bool) error
	// TestConnection verifies the backend is reachable and authenticated.
	TestConnection(ctx context.Context) error
	// Name identifies the backend for logs.
	Name() string
}

package torrents

import (
	"bytes"
	"context"
	"errors"

	"github.com/anacrolix/torrent/metainfo"

	"mamlarr/internal/services"
)

// ErrTorrentNotFound reports a handle the backend no longer tracks.
var ErrTorrentNotFound = errors.New("torrent not found")

// Payload is a parsed .torrent file: the raw bytes plus the identity derived
// from them. The handle is computed locally so both backends share the same
// identifier regardless of what their add call returns.
type Payload struct {
	Raw        []byte
	Handle     Handle
	Name       string
	TotalBytes int64
}

// ParsePayload decodes raw .torrent bytes and derives the infohash handle.
// Malformed metainfo is a permanent failure: re-submitting the same bytes
// cannot succeed.
func ParsePayload(raw []byte) (*Payload, error) {
	if len(raw) == 0 {
		return nil, services.Wrap(services.ErrValidation, "torrents", "parse", "empty torrent payload", nil)
	}
	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanentBackend, "torrents", "parse", "malformed torrent metainfo", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, services.Wrap(services.ErrPermanentBackend, "torrents", "parse", "malformed torrent info dictionary", err)
	}
	return &Payload{
		Raw:        raw,
		Handle:     NormalizeHandle(mi.HashInfoBytes().HexString()),
		Name:       info.Name,
		TotalBytes: info.TotalLength(),
	}, nil
}

// AddPayload parses the payload and submits it, returning the locally derived
// handle even when the backend's add response carries no identifier.
func AddPayload(ctx context.Context, client Client, raw []byte, category string) (*Payload, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	handle, err := client.Add(ctx, raw, category)
	if err != nil {
		return nil, err
	}
	if handle.Valid() && handle != payload.Handle {
		return nil, services.Wrap(services.ErrPermanentBackend, "torrents", "add",
			"backend reported a different infohash than the submitted payload", nil)
	}
	return payload, nil
}

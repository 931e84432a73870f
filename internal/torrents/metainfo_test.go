package torrents

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"mamlarr/internal/services"
)

func buildTestTorrent(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write payload file: %v", err)
	}

	info := metainfo.Info{Name: name, PieceLength: 16384}
	if err := info.BuildFromFilePath(path); err != nil {
		t.Fatalf("build info: %v", err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com/announce"}},
		InfoBytes:    infoBytes,
	}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("write metainfo: %v", err)
	}
	return buf.Bytes()
}

func TestParsePayloadDerivesHandle(t *testing.T) {
	raw := buildTestTorrent(t, "audiobook.m4b", []byte("chapter one"))

	payload, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if !payload.Handle.Valid() {
		t.Fatalf("handle %q is not a valid infohash", payload.Handle)
	}
	if payload.Name != "audiobook.m4b" {
		t.Fatalf("name = %q", payload.Name)
	}
	if payload.TotalBytes != int64(len("chapter one")) {
		t.Fatalf("total bytes = %d", payload.TotalBytes)
	}

	again, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if again.Handle != payload.Handle {
		t.Fatalf("handle not deterministic: %q vs %q", again.Handle, payload.Handle)
	}
}

func TestParsePayloadRejectsMalformedBytes(t *testing.T) {
	_, err := ParsePayload([]byte("this is not bencode"))
	if !errors.Is(err, services.ErrPermanentBackend) {
		t.Fatalf("expected permanent backend error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("malformed payload must not be retryable")
	}
}

func TestParsePayloadRejectsEmptyBytes(t *testing.T) {
	_, err := ParsePayload(nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizeHandle(t *testing.T) {
	h := NormalizeHandle("  ABCDEF0123456789ABCDEF0123456789ABCDEF01 ")
	if h != Handle("abcdef0123456789abcdef0123456789abcdef01") {
		t.Fatalf("normalized = %q", h)
	}
	if !h.Valid() {
		t.Fatal("expected valid handle")
	}
	if Handle("tooshort").Valid() {
		t.Fatal("short handle should be invalid")
	}
}

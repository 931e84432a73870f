package postprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mamlarr/internal/logging"
)

// maxCoverBytes caps a cover download. Artwork beyond this is rejected.
const maxCoverBytes = 16 << 20

// ArtworkCache downloads cover images keyed by URL. A cover fetched once is
// reused across pipeline retries and across jobs sharing the same artwork.
// Fetch failures are soft: the pipeline tags without a cover rather than
// failing the job.
type ArtworkCache struct {
	dir    string
	http   *http.Client
	logger *slog.Logger
}

// NewArtworkCache builds a cache rooted at dir.
func NewArtworkCache(dir string, timeout time.Duration, logger *slog.Logger) *ArtworkCache {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArtworkCache{
		dir:    dir,
		http:   &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "artwork"),
	}
}

func (c *ArtworkCache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".jpg")
}

// Fetch returns the cached cover path for url, downloading on first use.
// Returns an empty path when the URL is empty or the download fails.
func (c *ArtworkCache) Fetch(url string) string {
	if url == "" || c.dir == "" {
		return ""
	}
	cached := c.pathFor(url)
	if info, err := os.Stat(cached); err == nil && info.Size() > 0 {
		return cached
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("cover cache directory unavailable", logging.Error(err))
		return ""
	}

	resp, err := c.http.Get(url)
	if err != nil {
		c.logger.Debug("cover fetch failed", logging.String("url", url), logging.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("cover fetch rejected",
			logging.String("url", url),
			logging.Int("status", resp.StatusCode))
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil || len(data) == 0 || len(data) > maxCoverBytes {
		c.logger.Debug("cover read failed", logging.String("url", url), logging.Error(err))
		return ""
	}

	tmp := cached + fmt.Sprintf(".tmp%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("cover cache write failed", logging.Error(err))
		return ""
	}
	if err := os.Rename(tmp, cached); err != nil {
		_ = os.Remove(tmp)
		c.logger.Warn("cover cache rename failed", logging.Error(err))
		return ""
	}
	return cached
}

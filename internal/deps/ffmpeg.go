package deps

import (
	"path/filepath"
	"strings"
)

// ResolveFFprobePath derives the ffprobe binary that pairs with the
// configured ffmpeg binary. A custom ffmpeg path keeps its directory and
// naming scheme so a self-built toolchain resolves to its own ffprobe.
func ResolveFFprobePath(ffmpegBinary string) string {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" || ffmpegBinary == "ffmpeg" {
		return "ffprobe"
	}

	dir := filepath.Dir(ffmpegBinary)
	base := filepath.Base(ffmpegBinary)
	if strings.Contains(base, "ffmpeg") {
		base = strings.Replace(base, "ffmpeg", "ffprobe", 1)
	} else {
		base = "ffprobe"
	}
	if dir == "." {
		return base
	}
	return filepath.Join(dir, base)
}

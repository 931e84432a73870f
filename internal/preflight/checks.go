package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"mamlarr/internal/config"
	"mamlarr/internal/deps"
	"mamlarr/internal/torrents"
)

// CheckDirectoryAccess verifies that the directory exists and is readable
// and writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckTools evaluates the external binaries the post-processing pipeline
// shells out to.
func CheckTools(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.PostProcess.FFmpegBinary,
			Description: "Required for merging and tagging audiobooks",
		},
		{
			Name:        "FFprobe",
			Command:     deps.ResolveFFprobePath(cfg.PostProcess.FFmpegBinary),
			Description: "Required for media inspection",
		},
	}
	return deps.CheckBinaries(requirements)
}

// CheckTrackerConfig verifies the tracker collaborator is configured well
// enough to fetch payloads. No network call: session validity only shows up
// on a real download.
func CheckTrackerConfig(cfg *config.Config) Result {
	const name = "Tracker"
	if strings.TrimSpace(cfg.Tracker.BaseURL) == "" {
		return Result{Name: name, Detail: "tracker.base_url is not set"}
	}
	if strings.TrimSpace(cfg.Tracker.SessionID) == "" {
		return Result{Name: name, Detail: "tracker.session_id is not set (downloads will be rejected)"}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Tracker.BaseURL}
}

// CheckBackend verifies the torrent backend answers an authenticated request.
func CheckBackend(ctx context.Context, client torrents.Client) Result {
	name := fmt.Sprintf("Backend (%s)", client.Name())

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.TestConnection(checkCtx); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

package preflight

import (
	"context"

	"mamlarr/internal/config"
	"mamlarr/internal/torrents"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable readiness check for the given config.
// client may be nil to skip the backend connectivity check.
func RunAll(ctx context.Context, cfg *config.Config, client torrents.Client) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	if cfg.Paths.LibraryDir != "" {
		results = append(results, CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir))
	}
	results = append(results, CheckDirectoryAccess("Cover cache directory", cfg.Paths.CoverCacheDir))

	for _, status := range CheckTools(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	results = append(results, CheckTrackerConfig(cfg))

	if client != nil {
		results = append(results, CheckBackend(ctx, client))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Package postprocess normalizes a finished download into a library-ready
// audiobook: metadata extraction, lossless merge, tagging, artwork, and an
// atomic move into the library tree.
package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mamlarr/internal/config"
	"mamlarr/internal/fileutil"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
	"mamlarr/internal/services/ffmpeg"
)

// audioExtensions are the file types treated as audiobook content.
var audioExtensions = map[string]bool{
	".mp3": true, ".m4b": true, ".m4a": true, ".flac": true,
	".aac": true, ".ogg": true, ".wav": true, ".opus": true,
}

// Pipeline turns a completed torrent's payload into a tagged file (or tree)
// under the library directory. Every step reads only the raw download and
// writes only into a per-job staging directory, so a failed run can restart
// from the beginning without corrupting inputs.
type Pipeline struct {
	stagingDir  string
	libraryDir  string
	enableMerge bool
	ffmpeg      *ffmpeg.Client
	artwork     *ArtworkCache
	logger      *slog.Logger
}

// NewPipeline builds the pipeline from configuration.
func NewPipeline(cfg *config.Config, logger *slog.Logger) *Pipeline {
	toolTimeout := time.Duration(cfg.PostProcess.ToolTimeout) * time.Second
	return &Pipeline{
		stagingDir:  cfg.Paths.StagingDir,
		libraryDir:  cfg.Paths.LibraryDir,
		enableMerge: cfg.PostProcess.EnableMerge,
		ffmpeg:      ffmpeg.NewClient(cfg.PostProcess.FFmpegBinary, toolTimeout),
		artwork:     NewArtworkCache(cfg.Paths.CoverCacheDir, 30*time.Second, logger),
		logger:      logging.NewComponentLogger(logger, "postprocess"),
	}
}

// NewPipelineWithTools is the injection point for tests.
func NewPipelineWithTools(stagingDir, libraryDir string, enableMerge bool, client *ffmpeg.Client, artwork *ArtworkCache, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		stagingDir:  stagingDir,
		libraryDir:  libraryDir,
		enableMerge: enableMerge,
		ffmpeg:      client,
		artwork:     artwork,
		logger:      logging.NewComponentLogger(logger, "postprocess"),
	}
}

// Process runs the full pipeline for a job whose torrent data lives at
// contentPath. Returns the final library path.
func (p *Pipeline) Process(ctx context.Context, job *queue.Job, contentPath string) (string, error) {
	meta, err := ExtractMetadata(job.SourceJSON, job.Title)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(contentPath); err != nil {
		return "", services.Wrap(services.ErrPostProcess, "postprocess", "process",
			fmt.Sprintf("source path missing: %s", contentPath), err)
	}

	audioFiles, err := gatherAudioFiles(contentPath)
	if err != nil {
		return "", services.Wrap(services.ErrPostProcess, "postprocess", "process", "scan download", err)
	}

	destination := p.destinationFor(meta, job)
	stage, err := p.prepareStage(job.ID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stage)

	logger := p.logger.With(logging.Int64(logging.FieldJobID, job.ID))
	logger.Info("post-processing started",
		logging.String("source", contentPath),
		logging.String("destination", destination),
		logging.Int("audio_files", len(audioFiles)))

	switch {
	case len(audioFiles) == 0:
		// Nothing recognizable: preserve the payload as-is.
		if err := fileutil.PublishTree(contentPath, destination); err != nil {
			return "", services.Wrap(services.ErrPostProcess, "postprocess", "copy", destination, err)
		}
		if err := p.writeSidecar(destination, meta); err != nil {
			return "", err
		}
		return destination, nil

	case len(audioFiles) == 1:
		output := destination + strings.ToLower(filepath.Ext(audioFiles[0]))
		staged := filepath.Join(stage, "single"+strings.ToLower(filepath.Ext(audioFiles[0])))
		if err := fileutil.CopyFileVerified(audioFiles[0], staged); err != nil {
			return "", services.Wrap(services.ErrCorruption, "postprocess", "copy", staged, err)
		}
		final, err := p.tagAndPublish(ctx, staged, output, meta)
		if err != nil {
			return "", err
		}
		if err := p.writeSidecar(final, meta); err != nil {
			return "", err
		}
		return final, nil

	case p.enableMerge:
		merged := filepath.Join(stage, "merged.m4b")
		if err := p.ffmpeg.Concat(ctx, audioFiles, merged); err != nil {
			return "", err
		}
		final, err := p.tagAndPublish(ctx, merged, destination+".m4b", meta)
		if err != nil {
			return "", err
		}
		if err := p.writeSidecar(final, meta); err != nil {
			return "", err
		}
		return final, nil

	default:
		if err := fileutil.PublishTree(contentPath, destination); err != nil {
			return "", services.Wrap(services.ErrPostProcess, "postprocess", "copy", destination, err)
		}
		if err := p.writeSidecar(destination, meta); err != nil {
			return "", err
		}
		return destination, nil
	}
}

// destinationFor picks the library path, disambiguating collisions with the
// job id so a re-download never overwrites an existing book.
func (p *Pipeline) destinationFor(meta *Metadata, job *queue.Job) string {
	name := SanitizeName(meta.DisplayName())
	destination := filepath.Join(p.libraryDir, name)
	if pathExistsAnyExt(destination) {
		destination = filepath.Join(p.libraryDir, fmt.Sprintf("%s_%d", name, job.ID))
	}
	return destination
}

// pathExistsAnyExt reports whether base exists either as a directory or as a
// file with any audio extension.
func pathExistsAnyExt(base string) bool {
	if _, err := os.Stat(base); err == nil {
		return true
	}
	for ext := range audioExtensions {
		if _, err := os.Stat(base + ext); err == nil {
			return true
		}
	}
	return false
}

func (p *Pipeline) prepareStage(jobID int64) (string, error) {
	stage := filepath.Join(p.stagingDir, fmt.Sprintf("job-%d", jobID))
	// A previous failed run may have left partial outputs behind.
	if err := os.RemoveAll(stage); err != nil {
		return "", services.Wrap(services.ErrPostProcess, "postprocess", "stage", "clear staging", err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return "", services.Wrap(services.ErrPostProcess, "postprocess", "stage", "create staging", err)
	}
	return stage, nil
}

// tagAndPublish applies container tags (and cover art when available) to the
// staged file, then relocates it into the library atomically.
func (p *Pipeline) tagAndPublish(ctx context.Context, staged, destination string, meta *Metadata) (string, error) {
	coverPath := ""
	if p.artwork != nil {
		coverPath = p.artwork.Fetch(meta.CoverURL)
	}

	tagged := staged + ".tagged" + filepath.Ext(staged)
	if err := p.ffmpeg.ApplyTags(ctx, staged, tagged, meta.FFmpegTags(), coverPath); err != nil {
		return "", err
	}

	if err := fileutil.PublishFile(tagged, destination); err != nil {
		return "", services.Wrap(services.ErrCorruption, "postprocess", "publish", destination, err)
	}
	return destination, nil
}

// writeSidecar stores the normalized metadata next to the output for library
// scanners that read JSON sidecars.
func (p *Pipeline) writeSidecar(destination string, meta *Metadata) error {
	if meta.Title == "" {
		return nil
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrPostProcess, "postprocess", "sidecar", "encode metadata", err)
	}

	sidecar := destination + ".metadata.json"
	if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
		sidecar = filepath.Join(destination, "metadata.json")
	}
	if err := os.WriteFile(sidecar, payload, 0o644); err != nil {
		return services.Wrap(services.ErrPostProcess, "postprocess", "sidecar", sidecar, err)
	}
	return nil
}

// gatherAudioFiles walks the download and returns audio files in sorted
// order, which matches the part numbering trackers use.
func gatherAudioFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if audioExtensions[strings.ToLower(filepath.Ext(root))] {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if audioExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Package ffmpeg wraps the ffmpeg and ffprobe binaries for lossless audio
// assembly: stream probing, concat-demuxer merging, and metadata tagging.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mamlarr/internal/services"
)

// Executor abstracts command execution for testing.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return output, fmt.Errorf("%w: %s", err, lastStderrLine(exitErr.Stderr))
		}
		return output, err
	}
	return output, nil
}

func lastStderrLine(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// Client drives ffmpeg and ffprobe.
type Client struct {
	ffmpegBinary  string
	ffprobeBinary string
	timeout       time.Duration
	exec          Executor
}

// NewClient constructs a Client for the configured ffmpeg binary. The ffprobe
// binary is resolved by name substitution next to ffmpeg.
func NewClient(ffmpegBinary string, timeout time.Duration) *Client {
	return NewClientWithExecutor(ffmpegBinary, timeout, commandExecutor{})
}

// NewClientWithExecutor allows injecting a custom executor for testing.
func NewClientWithExecutor(ffmpegBinary string, timeout time.Duration, exec Executor) *Client {
	if exec == nil {
		exec = commandExecutor{}
	}
	binary := strings.TrimSpace(ffmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Client{
		ffmpegBinary:  binary,
		ffprobeBinary: probeBinaryFor(binary),
		timeout:       timeout,
		exec:          exec,
	}
}

func probeBinaryFor(ffmpegBinary string) string {
	dir, name := filepath.Split(ffmpegBinary)
	if strings.Contains(name, "ffmpeg") {
		return dir + strings.Replace(name, "ffmpeg", "ffprobe", 1)
	}
	return "ffprobe"
}

func (c *Client) run(ctx context.Context, binary string, args []string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.exec.Run(ctx, binary, args)
}

// ProbeStream describes one stream in a probed file.
type ProbeStream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// ProbeFormat describes container-level data from ffprobe.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Tags       map[string]string `json:"tags"`
}

// ProbeResult is ffprobe's JSON output for a media file.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// DurationSeconds parses the container duration.
func (p *ProbeResult) DurationSeconds() float64 {
	var seconds float64
	_, _ = fmt.Sscanf(p.Format.Duration, "%f", &seconds)
	return seconds
}

// AudioCodec returns the codec of the first audio stream, or empty.
func (p *ProbeResult) AudioCodec() string {
	for _, stream := range p.Streams {
		if stream.CodecType == "audio" {
			return stream.CodecName
		}
	}
	return ""
}

// Probe runs ffprobe and decodes its JSON report.
func (c *Client) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	output, err := c.run(ctx, c.ffprobeBinary, args)
	if err != nil {
		return nil, services.Wrap(services.ErrPostProcess, "ffmpeg", "probe", path, err)
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, services.Wrap(services.ErrPostProcess, "ffmpeg", "probe", "decode ffprobe output", err)
	}
	return &result, nil
}

// Concat merges the ordered inputs into output without re-encoding, using the
// concat demuxer. All inputs must share codec and stream layout.
func (c *Client) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return services.Wrap(services.ErrValidation, "ffmpeg", "concat", "no input files", nil)
	}

	listFile, err := writeConcatList(inputs, filepath.Dir(output))
	if err != nil {
		return services.Wrap(services.ErrPostProcess, "ffmpeg", "concat", "write list file", err)
	}
	defer os.Remove(listFile)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		output,
	}
	if _, err := c.run(ctx, c.ffmpegBinary, args); err != nil {
		return services.Wrap(services.ErrPostProcess, "ffmpeg", "concat", output, err)
	}
	return nil
}

// writeConcatList emits the concat demuxer's file list with quoted paths.
func writeConcatList(inputs []string, dir string) (string, error) {
	file, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	for _, input := range inputs {
		escaped := strings.ReplaceAll(input, "'", `'\''`)
		if _, err := fmt.Fprintf(file, "file '%s'\n", escaped); err != nil {
			_ = file.Close()
			_ = os.Remove(file.Name())
			return "", err
		}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// ApplyTags remuxes input into output with the given metadata tags and an
// optional embedded cover image, copying all streams.
func (c *Client) ApplyTags(ctx context.Context, input, output string, tags map[string]string, coverPath string) error {
	args := []string{"-y", "-i", input}
	if coverPath != "" {
		args = append(args, "-i", coverPath)
	}
	args = append(args, "-map", "0")
	if coverPath != "" {
		args = append(args,
			"-map", "1",
			"-disposition:v:0", "attached_pic",
		)
	}
	args = append(args, "-c", "copy")
	for _, key := range sortedTagKeys(tags) {
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", key, tags[key]))
	}
	args = append(args, output)

	if _, err := c.run(ctx, c.ffmpegBinary, args); err != nil {
		return services.Wrap(services.ErrPostProcess, "ffmpeg", "tag", output, err)
	}
	return nil
}

func sortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Version reports the installed ffmpeg version line, for startup preflight.
func (c *Client) Version(ctx context.Context) (string, error) {
	output, err := c.run(ctx, c.ffmpegBinary, []string{"-version"})
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "ffmpeg", "version", "ffmpeg not runnable", err)
	}
	lines := strings.SplitN(string(output), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

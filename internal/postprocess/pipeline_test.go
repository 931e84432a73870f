package postprocess

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
	"mamlarr/internal/services/ffmpeg"
)

// stubFFmpeg fakes tool runs by writing a marker file at the output argument.
// Invocations whose arguments contain failOn return an error instead.
type stubFFmpeg struct {
	calls  [][]string
	failOn string
}

func (s *stubFFmpeg) Run(_ context.Context, binary string, args []string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{binary}, args...))
	if s.failOn != "" && strings.Contains(strings.Join(args, " "), s.failOn) {
		return nil, errors.New("exit status 1")
	}
	if len(args) > 0 {
		output := args[len(args)-1]
		if !strings.HasPrefix(output, "-") {
			_ = os.WriteFile(output, []byte("fake media output"), 0o644)
		}
	}
	return nil, nil
}

func testPipeline(t *testing.T, enableMerge bool) (*Pipeline, *stubFFmpeg, string) {
	t.Helper()
	staging := t.TempDir()
	library := t.TempDir()
	stub := &stubFFmpeg{}
	client := ffmpeg.NewClientWithExecutor("ffmpeg", time.Minute, stub)
	pipeline := NewPipelineWithTools(staging, library, enableMerge, client, nil, logging.NewNop())
	return pipeline, stub, library
}

func writeAudioTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "The Wide Sea")
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func testJob(sourceJSON string) *queue.Job {
	return &queue.Job{ID: 7, Title: "The Wide Sea", SourceJSON: sourceJSON}
}

func TestProcessSingleFileCopiesAndTags(t *testing.T) {
	pipeline, stub, library := testPipeline(t, true)
	content := writeAudioTree(t, map[string]string{"book.m4b": "audio bytes"})

	dest, err := pipeline.Process(context.Background(), testJob(`{"title":"The Wide Sea","author_info":["A. Author"]}`), content)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if filepath.Dir(dest) != library {
		t.Fatalf("dest %q not under library", dest)
	}
	if !strings.HasSuffix(dest, ".m4b") {
		t.Fatalf("dest = %q", dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if _, err := os.Stat(dest + ".metadata.json"); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}

	// One ffmpeg call: the tagging remux. No concat for a single file.
	if len(stub.calls) != 1 {
		t.Fatalf("calls = %d", len(stub.calls))
	}
	joined := strings.Join(stub.calls[0], " ")
	if strings.Contains(joined, "concat") {
		t.Fatalf("unexpected concat: %v", stub.calls[0])
	}
}

func TestProcessMultiFileMerges(t *testing.T) {
	pipeline, stub, _ := testPipeline(t, true)
	content := writeAudioTree(t, map[string]string{
		"01 part.mp3": "one",
		"02 part.mp3": "two",
		"cover.nfo":   "not audio",
	})

	dest, err := pipeline.Process(context.Background(), testJob(""), content)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.HasSuffix(dest, ".m4b") {
		t.Fatalf("dest = %q", dest)
	}

	var sawConcat bool
	for _, call := range stub.calls {
		if strings.Contains(strings.Join(call, " "), "-f concat") {
			sawConcat = true
		}
	}
	if !sawConcat {
		t.Fatalf("no concat call in %v", stub.calls)
	}
}

func TestProcessMergeDisabledCopiesTree(t *testing.T) {
	pipeline, stub, library := testPipeline(t, false)
	content := writeAudioTree(t, map[string]string{
		"01 part.mp3": "one",
		"02 part.mp3": "two",
	})

	dest, err := pipeline.Process(context.Background(), testJob(""), content)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if filepath.Dir(dest) != library {
		t.Fatalf("dest %q not under library", dest)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", stub.calls)
	}
	for _, name := range []string{"01 part.mp3", "02 part.mp3", "metadata.json"} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	// The tree lands via a rename; no staging remnant next to it.
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial tree left behind: %v", err)
	}
}

func TestProcessNoAudioCopiesPayload(t *testing.T) {
	pipeline, stub, _ := testPipeline(t, true)
	content := writeAudioTree(t, map[string]string{"readme.txt": "no audio here"})

	dest, err := pipeline.Process(context.Background(), testJob(""), content)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "readme.txt")); err != nil {
		t.Fatalf("payload missing: %v", err)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", stub.calls)
	}
}

func TestTagFailureAbortsPublish(t *testing.T) {
	pipeline, stub, library := testPipeline(t, true)
	stub.failOn = "-metadata"
	content := writeAudioTree(t, map[string]string{"book.m4b": "audio bytes"})

	_, err := pipeline.Process(context.Background(), testJob(`{"title":"The Wide Sea"}`), content)
	if err == nil {
		t.Fatal("expected tagging failure to fail the run")
	}
	if !errors.Is(err, services.ErrPostProcess) {
		t.Fatalf("expected post-process error, got %v", err)
	}
	// Nothing reaches the library until every step succeeds; a later retry
	// starts over from the intact download.
	entries, readErr := os.ReadDir(library)
	if readErr != nil {
		t.Fatalf("read library: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("library not empty after failed run: %v", entries)
	}
	if _, statErr := os.Stat(filepath.Join(content, "book.m4b")); statErr != nil {
		t.Fatalf("source payload touched: %v", statErr)
	}
}

func TestProcessMissingSourceFails(t *testing.T) {
	pipeline, _, _ := testPipeline(t, true)
	_, err := pipeline.Process(context.Background(), testJob(""), filepath.Join(t.TempDir(), "gone"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestDestinationCollisionGetsJobSuffix(t *testing.T) {
	pipeline, _, library := testPipeline(t, true)
	content := writeAudioTree(t, map[string]string{"book.m4b": "audio"})

	// Simulate an earlier download occupying the natural name.
	if err := os.WriteFile(filepath.Join(library, "The_Wide_Sea.m4b"), []byte("old"), 0o644); err != nil {
		t.Fatalf("seed collision: %v", err)
	}

	dest, err := pipeline.Process(context.Background(), testJob(""), content)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(filepath.Base(dest), "_7") {
		t.Fatalf("expected job-id suffix, got %q", dest)
	}
	if data, err := os.ReadFile(filepath.Join(library, "The_Wide_Sea.m4b")); err != nil || string(data) != "old" {
		t.Fatal("existing library entry was touched")
	}
}

func TestProcessRestartAfterFailure(t *testing.T) {
	pipeline, _, _ := testPipeline(t, true)
	content := writeAudioTree(t, map[string]string{"book.m4b": "audio"})

	// Leave stale state from a prior crashed run in the staging directory.
	stale := filepath.Join(pipeline.stagingDir, "job-7")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "partial.m4b"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := pipeline.Process(context.Background(), testJob(""), content); err != nil {
		t.Fatalf("process after stale state: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("staging directory not cleaned up")
	}
}

func TestArtworkCacheFetchIsIdempotent(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("jpeg bytes"))
	}))
	defer server.Close()

	cache := NewArtworkCache(t.TempDir(), time.Minute, logging.NewNop())
	first := cache.Fetch(server.URL + "/cover.jpg")
	if first == "" {
		t.Fatal("expected cached path")
	}
	second := cache.Fetch(server.URL + "/cover.jpg")
	if second != first {
		t.Fatalf("paths differ: %q vs %q", first, second)
	}
	if hits != 1 {
		t.Fatalf("server hits = %d, want 1", hits)
	}
}

func TestArtworkCacheFailureIsSoft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cache := NewArtworkCache(t.TempDir(), time.Minute, logging.NewNop())
	if path := cache.Fetch(server.URL + "/missing.jpg"); path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
	if path := cache.Fetch(""); path != "" {
		t.Fatalf("empty url should return empty path, got %q", path)
	}
}

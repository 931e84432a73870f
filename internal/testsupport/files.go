package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and any missing parent directories) with size bytes
// of deterministic, position-dependent content, so truncated or reordered
// copies show up as content mismatches. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	var written int64
	for written < size {
		chunk := buf
		if remaining := size - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		for i := range chunk {
			chunk[i] = byte((written + int64(i)) % 251)
		}
		n, err := out.Write(chunk)
		if err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		written += int64(n)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

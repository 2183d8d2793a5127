package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/version"
)

func mustRelease(t *testing.T, name, ver string) vgem.Release {
	t.Helper()
	v, err := version.Parse(ver)
	if err != nil {
		t.Fatalf("version.Parse: %v", err)
	}
	return vgem.Release{Name: name, Version: v, Platform: vgem.ParsePlatform("")}
}

// TestDownloadRetry covers spec.md §8 scenario S5: with max_retries=2 and
// two sources, a source that errors on every attempt is tried exactly 3
// times (the initial attempt plus 2 retries) before failing over.
func TestDownloadRetry(t *testing.T) {
	var failingAttempts int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&failingAttempts, 1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("test server does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close() // force a network error on the client
	}))
	defer failing.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("archive-bytes"))
	}))
	defer working.Close()

	dir := t.TempDir()
	m, err := New(dir, []string{failing.URL, working.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.MaxRetries = 2

	release := mustRelease(t, "rack", "3.0.8")
	path, err := m.Acquire(context.Background(), release)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if got := atomic.LoadInt32(&failingAttempts); got != 3 {
		t.Fatalf("failing source attempts = %d, want 3", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "archive-bytes" {
		t.Fatalf("downloaded content = %q", data)
	}
}

func TestDownloadUsesCache(t *testing.T) {
	dir := t.TempDir()
	release := mustRelease(t, "rack", "3.0.8")
	cachePath := filepath.Join(dir, release.FullName()+".pkg")
	if err := os.WriteFile(cachePath, []byte("cached"), 0o644); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	m, err := New(dir, []string{"http://unused.invalid"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path, err := m.Acquire(context.Background(), release)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if path != cachePath {
		t.Fatalf("path = %q, want %q", path, cachePath)
	}
}

func TestDownloadLocalOnlyMiss(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, []string{"http://unused.invalid"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.LocalOnly = true

	_, err = m.Acquire(context.Background(), mustRelease(t, "rack", "3.0.8"))
	if err == nil {
		t.Fatal("expected error for local-only miss")
	}
}

func TestDownloadFourOhFourFailsOver(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("bytes"))
	}))
	defer ok.Close()

	dir := t.TempDir()
	m, err := New(dir, []string{notFound.URL, ok.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path, err := m.Acquire(context.Background(), mustRelease(t, "rack", "3.0.8"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cached file: %v", err)
	}
}

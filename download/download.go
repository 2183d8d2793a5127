// Package download is the gem archive download manager (spec.md §4.F): it
// acquires a release's archive into a local cache directory, trying each
// configured source in order with bounded retries, and never leaves a
// reader able to observe a partially-written cache file.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/obslog"
)

// Manager holds the configuration spec.md §4.F requires: a cache
// directory, an HTTP client, an ordered list of sources tried in
// failover order, a retry budget, and the skip_cache/local_only flags.
type Manager struct {
	CacheDir   string
	HTTP       *http.Client
	Sources    []string
	MaxRetries int
	SkipCache  bool
	LocalOnly  bool
}

// New constructs a Manager, creating cacheDir if necessary.
func New(cacheDir string, sources []string) (*Manager, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, vgerr.New(vgerr.KindIO, "download.New", "creating cache directory", err)
	}
	if len(sources) == 0 {
		return nil, vgerr.New(vgerr.KindInternal, "download.New", "no sources configured", nil)
	}
	return &Manager{
		CacheDir: cacheDir,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		Sources:  sources,
	}, nil
}

// CachePath returns the cache path Acquire would use for release r,
// without touching the filesystem or network.
func (m *Manager) CachePath(r vgem.Release) string {
	return filepath.Join(m.CacheDir, r.FullName()+".pkg")
}

// Acquire implements spec.md §4.F's algorithm: check the cache, honor
// local_only, then try each source in order with per-source retries,
// writing to a sibling temp file and renaming atomically on success.
func (m *Manager) Acquire(ctx context.Context, r vgem.Release) (string, error) {
	ctx, span := obslog.StartSpan(ctx, "download", "Acquire")
	var err error
	defer func() { obslog.EndSpan(span, err) }()

	cachePath := m.CachePath(r)

	if !m.SkipCache {
		if _, statErr := os.Stat(cachePath); statErr == nil {
			return cachePath, nil
		}
	}

	if m.LocalOnly {
		err = vgerr.New(vgerr.KindNotFound, "download.Acquire", fmt.Sprintf("%s: not in local cache", r.FullName()), nil)
		return "", err
	}

	filename := r.FullName() + ".pkg"
	var lastErr error

	for _, source := range m.Sources {
		url := source + "/downloads/" + filename

		var networkErr error
		for attempt := 0; attempt <= m.MaxRetries; attempt++ {
			status, body, getErr := m.fetch(ctx, url)
			if getErr != nil {
				networkErr = getErr
				if attempt < m.MaxRetries {
					select {
					case <-time.After(backoff(attempt)):
					case <-ctx.Done():
						err = ctx.Err()
						return "", err
					}
					continue
				}
				break
			}

			if status == http.StatusNotFound {
				lastErr = vgerr.New(vgerr.KindNotFound, "download.Acquire", fmt.Sprintf("%s: not found at %s", r.FullName(), source), nil)
				body.Close()
				break
			}
			if status < 200 || status >= 300 {
				body.Close()
				err = vgerr.New(vgerr.KindHTTP, "download.Acquire", fmt.Sprintf("HTTP %d fetching %s from %s", status, r.FullName(), url), nil)
				return "", err
			}

			writeErr := m.writeAtomic(body, r.Name, cachePath)
			body.Close()
			if writeErr != nil {
				err = writeErr
				return "", err
			}
			obslog.Info(ctx).Str("gem", r.FullName()).Str("source", source).Msg("downloaded")
			return cachePath, nil
		}

		if networkErr != nil {
			// Retries against this source are exhausted: remember the
			// network error and fail over to the next source (spec.md §8
			// scenario S5).
			lastErr = vgerr.New(vgerr.KindNetwork, "download.Acquire", r.FullName(), networkErr)
		}
	}

	if lastErr != nil {
		err = lastErr
		return "", err
	}
	err = vgerr.New(vgerr.KindNotFound, "download.Acquire", fmt.Sprintf("%s: no sources configured", r.FullName()), nil)
	return "", err
}

func (m *Manager) fetch(ctx context.Context, url string) (int, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

// writeAtomic streams body to a sibling temp file inside CacheDir, flushes
// it, then renames it into destPath. A concurrent reader therefore only
// ever sees either no file or a complete one (spec.md §8 property 7).
func (m *Manager) writeAtomic(body io.Reader, gemName, destPath string) error {
	tmpName := filepath.Join(m.CacheDir, fmt.Sprintf(".%s-%s.tmp", gemName, uuid.NewString()))
	f, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return vgerr.New(vgerr.KindIO, "download.writeAtomic", "creating temp file", err)
	}
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return vgerr.New(vgerr.KindIO, "download.writeAtomic", "writing "+gemName, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return vgerr.New(vgerr.KindIO, "download.writeAtomic", "flushing "+gemName, err)
	}
	if err := f.Close(); err != nil {
		return vgerr.New(vgerr.KindIO, "download.writeAtomic", "closing "+gemName, err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return vgerr.New(vgerr.KindIO, "download.writeAtomic", "renaming into place", err)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	return 100 * time.Millisecond * time.Duration(1<<uint(attempt))
}

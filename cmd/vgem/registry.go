package main

import (
	"os"
	"path/filepath"

	"github.com/vgem/vgem/manifest"
	"github.com/vgem/vgem/registryclient"
	"github.com/vgem/vgem/registryclient/diskcache"
)

// cacheDir is where the oracle's persistent SQLite cache (spec.md §4.O)
// lives (alongside the download cache): a "vgem" directory under the
// user's cache home.
func cacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "vgem")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// newRegistryClient builds the registry client subcommands share, pointed
// at the manifest's declared source unless --source overrides it, with a
// disk-backed version cache.
func newRegistryClient(m *manifest.Manifest) (*registryclient.Client, error) {
	base := m.Source
	if rootFlags.source != "" {
		base = rootFlags.source
	}
	if base == "" {
		base = manifest.DefaultSource
	}

	opts := registryclient.Options{BaseURL: base}

	dir, err := cacheDir()
	if err == nil {
		path := filepath.Join(dir, "versions.db")
		disk, derr := diskcache.Open(path)
		if derr != nil {
			// An unreadable cache file is discarded and rebuilt empty.
			os.Remove(path)
			disk, derr = diskcache.Open(path)
		}
		if derr == nil {
			opts.Disk = disk
		}
	}

	return registryclient.New(opts)
}

// Package standalone produces a self-contained loader bundle for an
// already-installed set of gems (spec.md §4.K): a copy (not a link) of
// every installed gem, its built extensions, and a small setup script
// that mutates the target runtime's load path without any package
// manager present at load time.
package standalone

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/lockfile"
	"github.com/vgem/vgem/store"
)

// Options configures a standalone bundle emission.
type Options struct {
	BundleRoot string // destination root; "bundle" subtree is created under it
	Runtime    string // runtime version R, e.g. "3.2.0"
	Platform   vgem.Platform
}

const setupTemplate = `# This file was generated by vgem's standalone emitter.
# Loaded without any package-manager runtime help, it mutates $LOAD_PATH
# (and $PATH, for binstubs) so the gems bundled alongside it are
# discoverable exactly as if they had been installed normally.

require 'rbconfig'

bundle_dir = File.expand_path(File.join(File.dirname(__FILE__), '..'))
gems_dir = File.join(bundle_dir, %%q{%s}, %%q{%s}, 'gems')

Dir.glob(File.join(gems_dir, '*', 'lib')).each do |lib|
  $LOAD_PATH.unshift(lib) unless $LOAD_PATH.include?(lib)
end

bin_dir = File.join(bundle_dir, %%q{%s}, %%q{%s}, 'bin')
ENV['PATH'] = "#{bin_dir}#{File::PATH_SEPARATOR}#{ENV['PATH']}"
`

// Emit builds the bundle/ tree described in spec.md §4.K from lf's
// registry entries, reading already-installed artefacts out of src
// (the normal install's vendor layout) and writing copies under
// opts.BundleRoot.
func Emit(src store.Layout, lf *lockfile.Lockfile, opts Options) error {
	dst := store.New(filepath.Join(opts.BundleRoot, "bundle"), opts.Runtime)

	for _, g := range lf.Gems {
		release := vgem.Release{Name: g.Name, Version: g.Version, Platform: g.Platform}

		srcGemDir := src.GemDir(release)
		if _, err := os.Stat(srcGemDir); err == nil {
			if err := store.CopyTree(dst.GemDir(release), srcGemDir); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "copying gem "+release.FullName(), err)
			}
		}

		srcSpec := src.SpecPath(release)
		if data, err := os.ReadFile(srcSpec); err == nil {
			if err := os.MkdirAll(filepath.Dir(dst.SpecPath(release)), 0o755); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "creating specifications dir", err)
			}
			if err := os.WriteFile(dst.SpecPath(release), data, 0o644); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "writing "+dst.SpecPath(release), err)
			}
		}

		srcCache := src.CachePath(release)
		if data, err := os.ReadFile(srcCache); err == nil {
			if err := os.MkdirAll(filepath.Dir(dst.CachePath(release)), 0o755); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "creating cache dir", err)
			}
			if err := os.WriteFile(dst.CachePath(release), data, 0o644); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "writing "+dst.CachePath(release), err)
			}
		}

		srcExtDir := src.ExtensionDir(opts.Platform, release)
		if _, err := os.Stat(srcExtDir); err == nil {
			if err := store.CopyTree(dst.ExtensionDir(opts.Platform, release), srcExtDir); err != nil {
				return vgerr.New(vgerr.KindIO, "standalone.Emit", "copying extension for "+release.FullName(), err)
			}
		}
	}

	srcBin := src.BinDir()
	if _, err := os.Stat(srcBin); err == nil {
		if err := store.CopyTree(dst.BinDir(), srcBin); err != nil {
			return vgerr.New(vgerr.KindIO, "standalone.Emit", "copying binstubs", err)
		}
	}

	return writeSetup(opts)
}

// writeSetup writes bundle/bundler/setup.rb, the loader the spec requires
// (§4.K): "a bundle/bundler/setup.rb ... that, when loaded, mutates the
// runtime's loader path".
func writeSetup(opts Options) error {
	setupDir := filepath.Join(opts.BundleRoot, "bundle", "bundler")
	if err := os.MkdirAll(setupDir, 0o755); err != nil {
		return vgerr.New(vgerr.KindIO, "standalone.writeSetup", "creating "+setupDir, err)
	}
	body := fmt.Sprintf(setupTemplate, store.Engine, opts.Runtime, store.Engine, opts.Runtime)
	path := filepath.Join(setupDir, "setup.rb")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return vgerr.New(vgerr.KindIO, "standalone.writeSetup", "writing "+path, err)
	}
	return nil
}

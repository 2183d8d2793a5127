// Package store codifies the on-disk layout of installed releases (spec.md
// §3) and generates executable binstubs for them. A vendor directory V holds
// one subtree per runtime version R: gems, specifications, cache archives,
// built extensions, and generated bin scripts all nest under
// V/<engine>/R/.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
)

// Engine is the runtime name vendor directories are keyed under. The
// source ecosystem calls this "ruby"; kept as a constant rather than a
// literal since [GemDir] and friends all need to agree on it.
const Engine = "ruby"

// Layout resolves paths under a vendor root V for runtime version R.
type Layout struct {
	Root    string
	Runtime string // R, e.g. "3.2.0"
}

// New returns a Layout rooted at root for the given runtime version.
func New(root, runtime string) Layout {
	return Layout{Root: root, Runtime: runtime}
}

func (l Layout) versionRoot() string {
	return filepath.Join(l.Root, Engine, l.Runtime)
}

// GemDir returns the extracted-payload directory for release.
func (l Layout) GemDir(release vgem.Release) string {
	return filepath.Join(l.versionRoot(), "gems", release.FullName())
}

// SpecPath returns the per-release metadata file path for release.
func (l Layout) SpecPath(release vgem.Release) string {
	return filepath.Join(l.versionRoot(), "specifications", release.FullName()+".spec")
}

// CachePath returns the acquired-archive path for release.
func (l Layout) CachePath(release vgem.Release) string {
	return filepath.Join(l.versionRoot(), "cache", release.FullName()+".pkg")
}

// ExtensionDir returns the built-native-artefact directory for release on
// platform.
func (l Layout) ExtensionDir(platform vgem.Platform, release vgem.Release) string {
	return filepath.Join(l.versionRoot(), "extensions", platform.String(), l.Runtime, release.FullName())
}

// BinDir returns the generated entry-point script directory.
func (l Layout) BinDir() string {
	return filepath.Join(l.versionRoot(), "bin")
}

// ShebangStyle selects how a binstub invokes its runtime.
type ShebangStyle int

const (
	// ShebangFixed writes "#!/usr/bin/<runtime>".
	ShebangFixed ShebangStyle = iota
	// ShebangEnv writes "#!/usr/bin/env <runtime>".
	ShebangEnv
)

const binstubTemplate = `%s
#
# This file was generated by vgem.

$LOAD_PATH.unshift(%q)
load File.expand_path(%q, __dir__)
`

// WriteBinstubs scans <gem_dir>/bin for executable files and writes one
// script per entry into l.BinDir(), each loading runtimeExe and pushing the
// release's lib directory onto the loader path before dispatching to the
// named executable.
func (l Layout) WriteBinstubs(release vgem.Release, runtimeExe string, style ShebangStyle) ([]string, error) {
	gemDir := l.GemDir(release)
	binSrc := filepath.Join(gemDir, "bin")

	entries, err := os.ReadDir(binSrc)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "store.WriteBinstubs", "reading "+binSrc, err)
	}

	binDir := l.BinDir()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, vgerr.New(vgerr.KindIO, "store.WriteBinstubs", "creating "+binDir, err)
	}

	var shebang string
	switch style {
	case ShebangEnv:
		shebang = "#!/usr/bin/env " + runtimeExe
	default:
		shebang = "#!/usr/bin/" + runtimeExe
	}

	var written []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}

		target := filepath.Join(binDir, ent.Name())
		libDir := filepath.Join(gemDir, "lib")
		body := fmt.Sprintf(binstubTemplate, shebang, libDir, filepath.Join(libDir, "..", "bin", ent.Name()))
		if err := writeExecutable(target, body); err != nil {
			return nil, err
		}
		written = append(written, target)
	}

	return written, nil
}

func writeExecutable(path, body string) error {
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return vgerr.New(vgerr.KindIO, "store.writeExecutable", "writing "+path, err)
	}
	if err := chmodExecutable(path); err != nil {
		return vgerr.New(vgerr.KindIO, "store.writeExecutable", "chmod "+path, err)
	}
	return nil
}

// CopyTree recursively copies src into dst, creating directories as needed.
// Used by the install pipeline's path-gem materialization (spec.md §4.J
// phase 8) and by the standalone emitter's gem/extension copy step.
func CopyTree(dst, src string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(target, p, info.Mode())
	})
}

func copyFile(dst, src string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

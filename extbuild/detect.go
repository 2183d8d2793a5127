package extbuild

import (
	"os"
	"path/filepath"

	"github.com/vgem/vgem"
)

// Detect applies spec.md §4.I's detection order to an extracted gem
// directory: a concrete-platform release is precompiled regardless of
// what's on disk; otherwise look for ext/extconf.rb, then scan ext/*/ for
// extconf.rb or CMakeLists.txt, then fall back to a root Cargo.toml.
func Detect(gemDir string, platform vgem.Platform) Detection {
	if !platform.IsUniversal() {
		return Detection{Kind: KindPrecompiled}
	}

	extDir := filepath.Join(gemDir, "ext")
	if info, err := os.Stat(extDir); err == nil && info.IsDir() {
		if fileExists(filepath.Join(extDir, "extconf.rb")) {
			return Detection{Kind: KindC, Dir: extDir}
		}
		if d, ok := scanExtSubdirs(extDir); ok {
			return d
		}
	}

	if fileExists(filepath.Join(gemDir, "Cargo.toml")) {
		return Detection{Kind: KindRust, Dir: gemDir}
	}

	return Detection{Kind: KindNone}
}

func scanExtSubdirs(extDir string) (Detection, bool) {
	entries, err := os.ReadDir(extDir)
	if err != nil {
		return Detection{}, false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(extDir, e.Name())
		if fileExists(filepath.Join(sub, "extconf.rb")) {
			return Detection{Kind: KindC, Dir: sub}, true
		}
		if fileExists(filepath.Join(sub, "CMakeLists.txt")) {
			return Detection{Kind: KindCMake, Dir: sub}, true
		}
	}
	return Detection{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

package install

import (
	"os"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/store"
)

// MaterializePath implements spec.md §4.J phase 8's path-gem step: a path
// source is never downloaded or extracted, just recursively copied from
// its declared directory into the release's gem_dir.
func MaterializePath(layout store.Layout, release vgem.Release, srcPath string) error {
	gemDir := layout.GemDir(release)
	if _, err := os.Stat(gemDir); err == nil {
		return nil
	}
	if err := store.CopyTree(gemDir, srcPath); err != nil {
		return vgerr.New(vgerr.KindIO, "install.MaterializePath",
			"copying "+srcPath+" to "+gemDir, err)
	}
	return nil
}

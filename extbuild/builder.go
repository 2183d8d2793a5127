package extbuild

import (
	"context"

	"github.com/vgem/vgem"
)

// Builder dispatches a detected extension to its matching tool chain,
// resolving each concrete builder lazily (and only once) so a gem tree
// with no C extensions never pays for a failed "ruby not found" lookup.
type Builder struct {
	runtimeExe string
	rbconfig   string

	c     *CBuilder
	cmake *CMakeBuilder
	rust  *RustBuilder
}

// NewBuilder returns a Builder that uses runtimeExe (e.g. "ruby") for C
// extensions and, when cross-compiling, rbconfig as --with-rbconfig.
func NewBuilder(runtimeExe, rbconfig string) *Builder {
	return &Builder{runtimeExe: runtimeExe, rbconfig: rbconfig}
}

// Build detects and, if necessary, builds the extension for the gem
// extracted at gemDir. Detection-only outcomes (KindNone, KindPrecompiled)
// return a successful no-op BuildResult without touching any tool.
func (b *Builder) Build(ctx context.Context, gemName, gemDir string, platform vgem.Platform) BuildResult {
	d := Detect(gemDir, platform)
	if !d.Kind.NeedsBuild() {
		return success(gemName, 0, "")
	}

	switch d.Kind {
	case KindC:
		if b.c == nil {
			builder, err := NewCBuilder(b.runtimeExe)
			if err != nil {
				return failure(gemName, 0, err, "")
			}
			b.c = builder
		}
		return b.c.Build(ctx, gemName, d.Dir, gemDir, b.rbconfig)
	case KindCMake:
		if b.cmake == nil {
			builder, err := NewCMakeBuilder()
			if err != nil {
				return failure(gemName, 0, err, "")
			}
			b.cmake = builder
		}
		return b.cmake.Build(ctx, gemName, d.Dir, gemDir)
	case KindRust:
		if b.rust == nil {
			builder, err := NewRustBuilder()
			if err != nil {
				return failure(gemName, 0, err, "")
			}
			b.rust = builder
		}
		return b.rust.Build(ctx, gemName, d.Dir)
	default:
		return success(gemName, 0, "")
	}
}

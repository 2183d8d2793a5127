package extbuild

import (
	"bytes"
	"context"
	"time"

	"github.com/vgem/vgem/internal/vgerr"
)

// RustBuilder drives `cargo build --release` for a Rust-based extension,
// spec.md §4.I. No copy step: Rust build scripts (magnus/rb-sys-based
// gems) place their compiled artifacts themselves.
type RustBuilder struct {
	cargoPath string
}

// NewRustBuilder resolves the cargo tool (CARGO env var, $PATH, or
// ~/.cargo/bin/cargo).
func NewRustBuilder() (*RustBuilder, error) {
	p, err := findCargo()
	if err != nil {
		return nil, vgerr.New(vgerr.KindBuild, "extbuild.NewRustBuilder", "cargo not found", err)
	}
	return &RustBuilder{cargoPath: p}, nil
}

// Build runs `cargo build --release` inside gemDir.
func (b *RustBuilder) Build(ctx context.Context, gemName, gemDir string) BuildResult {
	start := time.Now()
	out, err := runIn(ctx, gemDir, b.cargoPath, "build", "--release")
	if err != nil {
		return failure(gemName, time.Since(start),
			&BuildError{Gem: gemName, Stage: StageCompile, Tool: b.cargoPath, ExitCode: exitCode(err), Output: string(out)},
			string(out))
	}
	var combined bytes.Buffer
	combined.Write(out)
	return success(gemName, time.Since(start), combined.String())
}

package extbuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vgem/vgem/internal/vgerr"
)

// CMakeBuilder drives the cmake .. / cmake --build . / cmake --install .
// workflow spec.md §4.I describes for CMake-based extensions.
type CMakeBuilder struct {
	cmakePath string
}

// NewCMakeBuilder resolves the cmake tool (CMAKE env var or "cmake" on
// $PATH).
func NewCMakeBuilder() (*CMakeBuilder, error) {
	p, err := findTool("CMAKE", "cmake")
	if err != nil {
		return nil, vgerr.New(vgerr.KindBuild, "extbuild.NewCMakeBuilder", "cmake not found", err)
	}
	return &CMakeBuilder{cmakePath: p}, nil
}

// Build runs the three-step CMake workflow inside a build/ subdirectory of
// cmakeDir, installing into gemDir (-DCMAKE_INSTALL_PREFIX=gemDir).
func (b *CMakeBuilder) Build(ctx context.Context, gemName, cmakeDir, gemDir string) BuildResult {
	start := time.Now()
	var combined bytes.Buffer

	buildDir := filepath.Join(cmakeDir, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return failure(gemName, time.Since(start),
			&BuildError{Gem: gemName, Stage: StageConfigure, Tool: b.cmakePath, Output: err.Error()}, "")
	}

	steps := [][]string{
		{"..", "-DCMAKE_INSTALL_PREFIX=" + gemDir},
		{"--build", "."},
		{"--install", "."},
	}
	stages := []Stage{StageConfigure, StageCompile, StageInstall}

	for i, args := range steps {
		out, err := runIn(ctx, buildDir, b.cmakePath, args...)
		combined.Write(out)
		if err != nil {
			return failure(gemName, time.Since(start),
				&BuildError{Gem: gemName, Stage: stages[i], Tool: b.cmakePath, ExitCode: exitCode(err), Output: combined.String()},
				combined.String())
		}
	}

	return success(gemName, time.Since(start), combined.String())
}

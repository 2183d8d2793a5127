package extbuild

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vgem/vgem/internal/vgerr"
)

// CBuilder drives the extconf.rb + make workflow spec.md §4.I describes
// for C extensions: generate a Makefile with the target runtime, compile
// it, then copy the resulting shared object into the gem's lib/.
type CBuilder struct {
	runtimePath string // e.g. "ruby", resolved from $PATH or RUBY env
	makePath    string
}

// NewCBuilder resolves the runtime executable (RUBY env var or "ruby" on
// $PATH) and the make tool (MAKE env var or "make" on $PATH).
func NewCBuilder(runtimeExe string) (*CBuilder, error) {
	rt, err := findTool("RUBY", runtimeExe)
	if err != nil {
		return nil, vgerr.New(vgerr.KindBuild, "extbuild.NewCBuilder", "runtime executable not found", err)
	}
	make_, err := findTool("MAKE", "make")
	if err != nil {
		return nil, vgerr.New(vgerr.KindBuild, "extbuild.NewCBuilder", "make not found", err)
	}
	return &CBuilder{runtimePath: rt, makePath: make_}, nil
}

// Build runs extconf.rb then make inside extDir, then copies the compiled
// .so/.bundle/.dll into gemDir/lib. rbconfig, if non-empty, is passed as
// --with-rbconfig=<path> for cross-compilation (spec.md §4.I).
func (b *CBuilder) Build(ctx context.Context, gemName, extDir, gemDir, rbconfig string) BuildResult {
	start := time.Now()
	var combined bytes.Buffer

	args := []string{}
	if rbconfig != "" {
		args = append(args, "--with-rbconfig="+rbconfig)
	}
	args = append(args, "extconf.rb")

	if out, err := runIn(ctx, extDir, b.runtimePath, args...); err != nil {
		combined.Write(out)
		return failure(gemName, time.Since(start),
			&BuildError{Gem: gemName, Stage: StageConfigure, Tool: b.runtimePath, ExitCode: exitCode(err), Output: combined.String()},
			combined.String())
	} else {
		combined.Write(out)
	}

	if out, err := runIn(ctx, extDir, b.makePath); err != nil {
		combined.Write(out)
		return failure(gemName, time.Since(start),
			&BuildError{Gem: gemName, Stage: StageCompile, Tool: b.makePath, ExitCode: exitCode(err), Output: combined.String()},
			combined.String())
	} else {
		combined.Write(out)
	}

	if err := copyCompiledExtension(extDir, gemDir); err != nil {
		return failure(gemName, time.Since(start),
			&BuildError{Gem: gemName, Stage: StageInstall, Tool: "cp", Output: combined.String()},
			combined.String())
	}

	return success(gemName, time.Since(start), combined.String())
}

var compiledExtensionSuffixes = []string{".so", ".bundle", ".dll"}

// copyCompiledExtension finds the first .so/.bundle/.dll entry produced by
// the build in extDir and copies it into gemDir/lib, per spec.md §4.I.
func copyCompiledExtension(extDir, gemDir string) error {
	entries, err := os.ReadDir(extDir)
	if err != nil {
		return err
	}
	var found string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, suf := range compiledExtensionSuffixes {
			if filepath.Ext(e.Name()) == suf {
				found = e.Name()
			}
		}
		if found != "" {
			break
		}
	}
	if found == "" {
		return os.ErrNotExist
	}

	libDir := filepath.Join(gemDir, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(filepath.Join(extDir, found))
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(filepath.Join(libDir, found), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := copyAll(dst, src); err != nil {
		return err
	}
	return nil
}

// runIn executes name with args in dir, carrying CC/CXX/CFLAGS/CXXFLAGS/
// LDFLAGS through to the child per spec.md §4.I, and returns the combined
// stdout+stderr regardless of success.
func runIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = buildToolEnv()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	return dst.ReadFrom(src)
}

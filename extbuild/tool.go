package extbuild

import (
	"os"
	"os/exec"
)

// findTool resolves an external tool's path once: an explicit envVar
// override first, then $PATH under name. Builders cache the result on
// construction (spec.md §5: "build-tool discovery result is cached per
// builder instance").
func findTool(envVar, name string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		if _, err := os.Stat(v); err == nil {
			return v, nil
		}
		// Fall through to PATH lookup even if the override path doesn't
		// exist verbatim: it may itself be a bare command name.
		if p, err := exec.LookPath(v); err == nil {
			return p, nil
		}
	}
	return exec.LookPath(name)
}

// buildToolEnv returns the process environment extended with whichever of
// CC/CXX/CFLAGS/CXXFLAGS/LDFLAGS the caller's environment sets, per
// spec.md §4.I: "propagate the usual CC, CXX, CFLAGS, CXXFLAGS, LDFLAGS to
// the child process." Since os/exec.Cmd.Env, when nil, already inherits
// the process environment, this only matters when some other code path
// has already set a restricted Env; here it's a no-op passthrough kept as
// its own function so the propagated-variable list is documented in one
// place.
func buildToolEnv() []string {
	return os.Environ()
}

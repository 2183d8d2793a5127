package extbuild

import (
	"os"
	"path/filepath"
)

// findCargo resolves cargo's executable path: CARGO env var, $PATH, then
// the conventional ~/.cargo/bin/cargo rustup install location, spec.md
// §4.I.
func findCargo() (string, error) {
	if p, err := findTool("CARGO", "cargo"); err == nil {
		return p, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".cargo", "bin", "cargo")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

//go:build unix

package store

import "golang.org/x/sys/unix"

// chmodExecutable marks path 0755, the mode spec.md §4.H requires for a
// generated binstub. unix.Chmod is used directly rather than os.Chmod so
// this stays in lockstep with the rest of the tree's platform-specific
// filesystem calls (see the teacher's own toolkit/spool/os_linux.go).
func chmodExecutable(path string) error {
	return unix.Chmod(path, 0o755)
}

package vgem

import (
	"runtime"
	"strings"
)

// Universal is the platform sentinel meaning "source, runs anywhere"
// (spec.md §3: "ruby").
const Universal = "ruby"

// Platform identifies a release's target: either [Universal] or an
// arch-os[-abi] triple such as "arm64-darwin" or "x86_64-linux-gnu".
type Platform struct {
	raw string
}

// ParsePlatform parses a platform string. An empty string is treated as
// [Universal].
func ParsePlatform(s string) Platform {
	if s == "" {
		s = Universal
	}
	return Platform{raw: s}
}

// String returns the platform's canonical string form.
func (p Platform) String() string {
	if p.raw == "" {
		return Universal
	}
	return p.raw
}

// IsUniversal reports whether p is the universal/source platform.
func (p Platform) IsUniversal() bool {
	return p.raw == "" || p.raw == Universal
}

// components splits an arch-os[-abi] triple on '-'. The universal
// platform has no components.
func (p Platform) components() []string {
	if p.IsUniversal() {
		return nil
	}
	return strings.Split(p.raw, "-")
}

// Arch returns the first component of a concrete platform triple, or ""
// for the universal platform.
func (p Platform) Arch() string {
	c := p.components()
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// OS returns the second component of a concrete platform triple, or ""
// for the universal platform.
func (p Platform) OS() string {
	c := p.components()
	if len(c) < 2 {
		return ""
	}
	return c[1]
}

// ABI returns the trailing abi component of a concrete platform triple,
// if any ("arm64-darwin" has none; "x86_64-linux-gnu" has "gnu").
func (p Platform) ABI() string {
	c := p.components()
	if len(c) < 3 {
		return ""
	}
	return strings.Join(c[2:], "-")
}

// Matches reports whether a release built for p may run on current,
// per spec.md §4.J phase 1: universal entries always match; concrete
// entries match iff their arch and os components equal current's.
func (p Platform) Matches(current Platform) bool {
	if p.IsUniversal() {
		return true
	}
	if current.IsUniversal() {
		return false
	}
	return p.Arch() == current.Arch() && p.OS() == current.OS()
}

// In reports whether p is present in set, or p is universal (spec.md
// §4.G: "only versions whose platform is empty, ruby, or in the platform
// set survive").
func (p Platform) In(set []Platform) bool {
	if p.IsUniversal() {
		return true
	}
	for _, s := range set {
		if s.raw == p.raw {
			return true
		}
	}
	return false
}

// Equal reports whether p and other are the same platform string.
func (p Platform) Equal(other Platform) bool {
	return p.String() == other.String()
}

// goArchToGem maps Go's GOARCH names to the arch component the gem
// ecosystem's platform triples use.
var goArchToGem = map[string]string{
	"amd64": "x86_64",
	"386":   "x86",
	"arm64": "arm64",
	"arm":   "arm",
}

// goOSToGem maps Go's GOOS names to the os component of a gem platform
// triple.
var goOSToGem = map[string]string{
	"darwin":  "darwin",
	"linux":   "linux",
	"windows": "mingw32",
}

// CurrentPlatform returns the concrete platform triple for the process's
// own GOARCH/GOOS, used by the install pipeline's phase 1 filter
// (spec.md §4.J) to decide which lockfile entries apply to this machine.
func CurrentPlatform() Platform {
	arch, ok := goArchToGem[runtime.GOARCH]
	if !ok {
		arch = runtime.GOARCH
	}
	os_, ok := goOSToGem[runtime.GOOS]
	if !ok {
		os_ = runtime.GOOS
	}
	return ParsePlatform(arch + "-" + os_)
}

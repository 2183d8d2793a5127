package vgem

import (
	"fmt"

	"github.com/vgem/vgem/requirement"
	"github.com/vgem/vgem/version"
)

// Release identifies a specific package release: (name, version, platform),
// spec.md §3's "package identity".
type Release struct {
	Name     string
	Version  version.Version
	Platform Platform
}

// FullName is the canonical "name-version" (universal) or
// "name-version-platform" (concrete) string, spec.md §3.
func (r Release) FullName() string {
	if r.Platform.IsUniversal() {
		return fmt.Sprintf("%s-%s", r.Name, r.Version)
	}
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Platform)
}

// Dependency is a runtime dependency: a name plus the requirement the
// depending release places on it.
type Dependency struct {
	Name        string
	Requirement requirement.Requirement
}

// SourceKind is where a manifest entry's package comes from.
type SourceKind int

const (
	SourceRegistry SourceKind = iota
	SourceGit
	SourcePath
)

func (k SourceKind) String() string {
	switch k {
	case SourceRegistry:
		return "registry"
	case SourceGit:
		return "git"
	case SourcePath:
		return "path"
	default:
		return "unknown"
	}
}

// ManifestEntry is a declared dependency from the manifest, spec.md §3.
type ManifestEntry struct {
	Name        string
	Requirement requirement.Requirement
	Groups      []string
	Source      SourceKind
	SourceArgs  map[string]string
	Platforms   []Platform
	ShouldLoad  bool
}

// DefaultGroup is the implicit group a manifest entry belongs to when none
// is declared.
const DefaultGroup = "default"

// ResolvedEntry is one output record of the resolver, spec.md §3.
type ResolvedEntry struct {
	Name            string
	Version         version.Version
	Platform        Platform
	RuntimeDeps     []Dependency
	RubyRequirement *requirement.Requirement
}

// Release returns the ResolvedEntry's release identity.
func (e ResolvedEntry) Release() Release {
	return Release{Name: e.Name, Version: e.Version, Platform: e.Platform}
}

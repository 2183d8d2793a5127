// Package purl generates package URLs for resolved and installed gems,
// spec.md §3/§4.N.
package purl

import (
	"github.com/package-url/packageurl-go"

	"github.com/vgem/vgem"
)

// Type is the package URL type for RubyGems packages.
const Type = "gem"

// FromRelease builds a PURL for a release. Non-universal platforms are
// carried as the "platform" qualifier, since purl has no first-class
// platform field and claircore's ruby/purl.go silently drops it.
func FromRelease(r vgem.Release) packageurl.PackageURL {
	p := packageurl.PackageURL{
		Type:    Type,
		Name:    r.Name,
		Version: r.Version.String(),
	}
	if !r.Platform.IsUniversal() {
		p.Qualifiers = packageurl.QualifiersFromMap(map[string]string{
			"platform": r.Platform.String(),
		})
	}
	return p
}

// FromResolvedEntry builds a PURL for a resolver output record.
func FromResolvedEntry(e vgem.ResolvedEntry) packageurl.PackageURL {
	return FromRelease(e.Release())
}

// String renders a PURL the same way FromRelease/FromResolvedEntry would,
// as a string.
func String(r vgem.Release) string {
	return FromRelease(r).ToString()
}

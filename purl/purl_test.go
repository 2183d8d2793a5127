package purl

import (
	"testing"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/version"
)

func TestFromReleaseUniversal(t *testing.T) {
	r := vgem.Release{Name: "rails", Version: version.MustParse("6.1.0"), Platform: vgem.ParsePlatform("")}
	got := String(r)
	want := "pkg:gem/rails@6.1.0"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFromReleasePlatform(t *testing.T) {
	r := vgem.Release{
		Name:     "nokogiri",
		Version:  version.MustParse("1.15.0"),
		Platform: vgem.ParsePlatform("x86_64-linux"),
	}
	p := FromRelease(r)
	if p.Qualifiers.Map()["platform"] != "x86_64-linux" {
		t.Errorf("missing platform qualifier: %v", p.Qualifiers)
	}
}

func TestFromResolvedEntry(t *testing.T) {
	e := vgem.ResolvedEntry{Name: "rack", Version: version.MustParse("3.0.8"), Platform: vgem.ParsePlatform("")}
	p := FromResolvedEntry(e)
	if p.Name != "rack" || p.Version != "3.0.8" {
		t.Errorf("FromResolvedEntry = %+v", p)
	}
}

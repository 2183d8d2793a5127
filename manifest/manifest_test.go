package manifest

import (
	"testing"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/version"
)

func TestSimpleGemDirective(t *testing.T) {
	m, err := ParseString("source 'https://rubygems.org'\n\ngem 'rails', '7.0.8'\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if m.Source != "https://rubygems.org" {
		t.Fatalf("unexpected source: %q", m.Source)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(m.Entries))
	}
	e := m.Entries[0]
	if e.Name != "rails" {
		t.Fatalf("unexpected name: %q", e.Name)
	}
	if e.Requirement.IsEmpty() {
		t.Fatal("want a version requirement, got empty")
	}
	if !e.Requirement.Contains(version.MustParse("7.0.8")) {
		t.Fatalf("requirement should admit 7.0.8: %s", e.Requirement)
	}
	if len(e.Groups) != 1 || e.Groups[0] != vgem.DefaultGroup {
		t.Fatalf("want default group, got %+v", e.Groups)
	}
	if !e.ShouldLoad {
		t.Fatal("want ShouldLoad true by default")
	}
}

func TestGemDirectiveWithOptionsNoVersion(t *testing.T) {
	m, err := ParseString(`gem 'nokogiri', platforms: [:mri, :truffleruby]` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	e := m.Entries[0]
	if !e.Requirement.IsEmpty() {
		t.Fatalf("option value should not be mistaken for a version requirement: %s", e.Requirement)
	}
	if len(e.Platforms) != 2 {
		t.Fatalf("want 2 platforms, got %+v", e.Platforms)
	}
}

func TestGemDirectiveGitSource(t *testing.T) {
	m, err := ParseString(`gem 'rails', git: 'https://github.com/rails/rails.git', branch: 'main'` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	e := m.Entries[0]
	if e.Source != vgem.SourceGit {
		t.Fatalf("want git source, got %v", e.Source)
	}
	if e.SourceArgs["git"] != "https://github.com/rails/rails.git" || e.SourceArgs["branch"] != "main" {
		t.Fatalf("unexpected source args: %+v", e.SourceArgs)
	}
}

func TestGemDirectivePathSource(t *testing.T) {
	m, err := ParseString(`gem 'mylib', path: '../mylib'` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	e := m.Entries[0]
	if e.Source != vgem.SourcePath || e.SourceArgs["path"] != "../mylib" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestGemDirectiveRequireFalse(t *testing.T) {
	m, err := ParseString(`gem 'foo', require: false` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if m.Entries[0].ShouldLoad {
		t.Fatal("want ShouldLoad false")
	}
}

func TestGroupBlockAssignsGroups(t *testing.T) {
	input := "group :development, :test do\n" +
		"  gem 'rspec'\n" +
		"end\n" +
		"gem 'rails'\n"

	m, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(m.Entries))
	}
	rspec := m.Entries[0]
	if len(rspec.Groups) != 2 || rspec.Groups[0] != "development" || rspec.Groups[1] != "test" {
		t.Fatalf("unexpected groups for rspec: %+v", rspec.Groups)
	}
	rails := m.Entries[1]
	if len(rails.Groups) != 1 || rails.Groups[0] != vgem.DefaultGroup {
		t.Fatalf("rails should fall outside the group block: %+v", rails.Groups)
	}
}

func TestGemLineGroupOption(t *testing.T) {
	m, err := ParseString(`gem 'pry', group: :development` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Entries[0].Groups) != 1 || m.Entries[0].Groups[0] != "development" {
		t.Fatalf("unexpected groups: %+v", m.Entries[0].Groups)
	}
}

func TestGitSourceBlockIsSkippedNotReported(t *testing.T) {
	input := "git_source(:stash) do |repo_name|\n" +
		"  \"https://stash.example.com/#{repo_name}.git\"\n" +
		"end\n" +
		"gem 'foo'\n"

	m, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if _, ok := m.GitSources["stash"]; !ok {
		t.Fatalf("want git_source :stash registered, got %+v", m.GitSources)
	}
	if len(m.Unsupported) != 0 {
		t.Fatalf("git_source block body should not be reported unsupported: %+v", m.Unsupported)
	}
	if len(m.Entries) != 1 || m.Entries[0].Name != "foo" {
		t.Fatalf("unexpected entries: %+v", m.Entries)
	}
}

func TestGemspecDirective(t *testing.T) {
	m, err := ParseString("gemspec\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Gemspecs) != 1 || m.Gemspecs[0] != "." {
		t.Fatalf("unexpected gemspecs: %+v", m.Gemspecs)
	}
}

func TestRubyVersionDirective(t *testing.T) {
	m, err := ParseString("ruby '3.2.0'\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if m.RubyVersion != "3.2.0" {
		t.Fatalf("unexpected ruby version: %q", m.RubyVersion)
	}
}

func TestUnsupportedConditionalReported(t *testing.T) {
	input := "if RUBY_VERSION >= '3.0'\n" +
		"  gem 'foo'\n" +
		"end\n"

	m, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Unsupported) != 1 {
		t.Fatalf("want 1 unsupported construct, got %d: %+v", len(m.Unsupported), m.Unsupported)
	}
	if m.Unsupported[0].Reason != "conditional" {
		t.Fatalf("unexpected reason: %q", m.Unsupported[0].Reason)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("gem inside the conditional block should still parse: %+v", m.Entries)
	}
}

func TestUnsupportedInterpolationReported(t *testing.T) {
	m, err := ParseString(`puts "loading #{ENV['FOO']}"` + "\n")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Unsupported) != 1 || m.Unsupported[0].Reason != "string interpolation" {
		t.Fatalf("unexpected unsupported list: %+v", m.Unsupported)
	}
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	input := "# frozen_string_literal: true\n" +
		"\n" +
		"gem 'rails'\n" +
		"\n" +
		"# a trailing comment line\n"

	m, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(m.Entries) != 1 || len(m.Unsupported) != 0 {
		t.Fatalf("comments/blank lines should produce no entries or reports: entries=%+v unsupported=%+v", m.Entries, m.Unsupported)
	}
}

func TestEntriesInGroupFiltering(t *testing.T) {
	input := "gem 'rails'\n" +
		"group :test do\n" +
		"  gem 'rspec'\n" +
		"end\n"
	m, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	inTest := m.EntriesInGroup("test")
	if len(inTest) != 1 || inTest[0].Name != "rspec" {
		t.Fatalf("want only rspec in the test group, got %+v", inTest)
	}
	withoutTest := m.EntriesWithoutGroups([]string{"test"})
	if len(withoutTest) != 1 || withoutTest[0].Name != "rails" {
		t.Fatalf("unexpected filtered entries: %+v", withoutTest)
	}
}

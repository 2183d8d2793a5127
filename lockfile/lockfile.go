// Package lockfile implements the textual lockfile codec of spec.md §4.L:
// a sequence of top-level sections (GEM, GIT, PATH, PLATFORMS, DEPENDENCIES,
// CHECKSUMS, RUBY VERSION, BUNDLED WITH) with two-space-indented keys,
// byte-compatible with the source ecosystem's own lockfile tool. Parse and
// Format are inverse up to entry ordering: Format always sorts entries
// within a section by name, so a round trip need not be byte-identical.
package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/checksum"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/requirement"
	"github.com/vgem/vgem/version"
)

// DefaultSource is the remote URL recorded under a GEM section's "remote:"
// key when a Lockfile carries no Source of its own.
const DefaultSource = "https://rubygems.org"

// platformKeywords disambiguates a trailing version segment from a platform
// suffix during parsing, spec.md §4.L.
var platformKeywords = []string{
	"darwin", "linux", "mingw", "mswin", "java", "jruby",
	"x86_64", "aarch64", "arm64", "x86", "i386",
}

// GemSpec is one locked release, from the GEM, GIT, or PATH section.
type GemSpec struct {
	Name         string
	Version      version.Version
	Platform     vgem.Platform
	Dependencies []Dependency
	Checksum     checksum.SHA256 // zero value means "not recorded"
}

// FullName is the "name-version" or "name-version-platform" form used in
// CHECKSUMS lines and diagnostics.
func (g GemSpec) FullName() string {
	if g.Platform.IsUniversal() {
		return fmt.Sprintf("%s-%s", g.Name, g.Version)
	}
	return fmt.Sprintf("%s-%s-%s", g.Name, g.Version, g.Platform)
}

// Dependency is a single dependency line nested under a gem spec, or a
// top-level entry in the DEPENDENCIES section.
type Dependency struct {
	Name        string
	Requirement requirement.Requirement
}

// GitSource is one GIT section: a repository pinned to a revision, carrying
// every gem built from it.
type GitSource struct {
	Repository string
	Revision   string
	Branch     string
	Tag        string
	Gems       []GemSpec
}

// PathSource is one PATH section: a single gem sourced from a local
// directory. The source ecosystem emits one PATH block per path gem rather
// than grouping them, and Format follows suit.
type PathSource struct {
	Path string
	Gems []GemSpec
}

// Lockfile is a fully parsed or constructed lockfile.
type Lockfile struct {
	Source       string // GEM section's remote, defaults to [DefaultSource] on Format
	Gems         []GemSpec
	Git          []GitSource
	Path         []PathSource
	Platforms    []vgem.Platform
	Dependencies []Dependency
	RubyVersion  string
	BundledWith  string
}

// FindGem returns the GEM-section spec named name, or nil.
func (l *Lockfile) FindGem(name string) *GemSpec {
	for i := range l.Gems {
		if l.Gems[i].Name == name {
			return &l.Gems[i]
		}
	}
	return nil
}

// ParseError locates a malformed line encountered while parsing a lockfile.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lockfile: line %d: %s", e.Line, e.Message)
}

// FromResolved builds a Lockfile's GEM and DEPENDENCIES sections from a
// resolver run: entries is the full transitive closure, root is the
// manifest's direct dependencies (spec.md §4.G's resolver input), and
// checksums maps a release's FullName to its archive digest (spec.md §4.J
// phase 5's verify output). Callers still need to set Platforms,
// RubyVersion, and BundledWith, and to populate Git/Path separately for any
// non-registry sources.
func FromResolved(root []vgem.Dependency, entries []vgem.ResolvedEntry, checksums map[string]checksum.SHA256, platforms []vgem.Platform) *Lockfile {
	lf := &Lockfile{Platforms: platforms}

	for _, e := range entries {
		gem := GemSpec{Name: e.Name, Version: e.Version, Platform: e.Platform}
		for _, d := range e.RuntimeDeps {
			gem.Dependencies = append(gem.Dependencies, Dependency{Name: d.Name, Requirement: d.Requirement})
		}
		if sum, ok := checksums[e.Release().FullName()]; ok {
			gem.Checksum = sum
		}
		lf.Gems = append(lf.Gems, gem)
	}
	sort.Slice(lf.Gems, func(i, j int) bool { return lf.Gems[i].Name < lf.Gems[j].Name })

	for _, d := range root {
		lf.Dependencies = append(lf.Dependencies, Dependency{Name: d.Name, Requirement: d.Requirement})
	}
	sort.Slice(lf.Dependencies, func(i, j int) bool { return lf.Dependencies[i].Name < lf.Dependencies[j].Name })

	return lf
}

// lineScanner walks a lockfile's raw lines, tracking a 1-based line number
// for [ParseError].
type lineScanner struct {
	lines []string
	pos   int
}

func (s *lineScanner) current() string {
	if s.pos >= len(s.lines) {
		return ""
	}
	return s.lines[s.pos]
}

func (s *lineScanner) advance() { s.pos++ }
func (s *lineScanner) eof() bool { return s.pos >= len(s.lines) }
func (s *lineScanner) line() int { return s.pos + 1 }

// Parse reads a lockfile from r.
func Parse(r io.Reader) (*Lockfile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "lockfile.Parse", "reading lockfile", err)
	}
	return ParseString(string(data))
}

// ParseString parses a lockfile already held in memory.
func ParseString(content string) (*Lockfile, error) {
	s := &lineScanner{lines: strings.Split(content, "\n")}
	lf := &Lockfile{}

	for !s.eof() {
		trimmed := strings.TrimSpace(s.current())
		if trimmed == "" {
			s.advance()
			continue
		}

		switch trimmed {
		case "GEM":
			s.advance()
			if err := parseGemSection(s, lf); err != nil {
				return nil, err
			}
		case "GIT":
			s.advance()
			if err := parseGitSection(s, lf); err != nil {
				return nil, err
			}
		case "PATH":
			s.advance()
			if err := parsePathSection(s, lf); err != nil {
				return nil, err
			}
		case "PLATFORMS":
			s.advance()
			parsePlatforms(s, lf)
		case "DEPENDENCIES":
			s.advance()
			parseDependenciesSection(s, lf)
		case "CHECKSUMS":
			s.advance()
			parseChecksums(s, lf)
		case "RUBY VERSION":
			s.advance()
			lf.RubyVersion = parseRubyVersion(s)
		case "BUNDLED WITH":
			s.advance()
			lf.BundledWith = parseIndentedValue(s)
		default:
			s.advance()
		}
	}

	return lf, nil
}

func parseIndentedValue(s *lineScanner) string {
	if s.eof() {
		return ""
	}
	v := strings.TrimSpace(s.current())
	s.advance()
	return v
}

func parseRubyVersion(s *lineScanner) string {
	if s.eof() {
		return ""
	}
	line := strings.TrimSpace(s.current())
	if rest, ok := strings.CutPrefix(line, "ruby "); ok {
		s.advance()
		return rest
	}
	return ""
}

func parseGemSection(s *lineScanner, lf *Lockfile) error {
	for !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "remote:") {
		remote := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "remote:"))
		lf.Source = strings.TrimSuffix(remote, "/")
		s.advance()
	}
	if !s.eof() && strings.TrimSpace(s.current()) == "specs:" {
		s.advance()
	}

	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "    ") && line != "" {
			break
		}
		if strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "      ") {
			gem, err := parseGemSpecBlock(s)
			if err != nil {
				return err
			}
			lf.Gems = append(lf.Gems, gem)
			continue
		}
		s.advance()
	}
	return nil
}

// parseGemSpecBlock parses one "    name (version[-platform])" line and its
// following six-space-indented dependency lines.
func parseGemSpecBlock(s *lineScanner) (GemSpec, error) {
	lineNo := s.line()
	raw := strings.TrimSpace(s.current())
	name, rawVersion, platform, err := parseGemLine(raw, lineNo)
	if err != nil {
		return GemSpec{}, err
	}
	s.advance()

	var deps []Dependency
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "      ") || strings.TrimSpace(line) == "" {
			break
		}
		deps = append(deps, parseDependencyLine(strings.TrimSpace(line)))
		s.advance()
	}

	v, err := version.Parse(rawVersion)
	if err != nil {
		return GemSpec{}, vgerr.New(vgerr.KindParse, "lockfile.Parse",
			fmt.Sprintf("line %d: invalid version %q", lineNo, rawVersion), err)
	}

	return GemSpec{
		Name:         name,
		Version:      v,
		Platform:     vgem.ParsePlatform(platform),
		Dependencies: deps,
	}, nil
}

// parseGemLine splits "name (version)" or "name (version-platform)".
func parseGemLine(line string, lineNo int) (name, ver, platform string, err error) {
	idx := strings.Index(line, " (")
	if idx < 0 || !strings.HasSuffix(line, ")") {
		return "", "", "", vgerr.New(vgerr.KindParse, "lockfile.Parse", "",
			&ParseError{Line: lineNo, Message: fmt.Sprintf("expected 'name (version)', got %q", line)})
	}
	name = line[:idx]
	versionPart := line[idx+2 : len(line)-1]
	if v, p, ok := splitVersionPlatform(versionPart); ok {
		return name, v, p, nil
	}
	return name, versionPart, "", nil
}

// splitVersionPlatform applies spec.md §4.L's platform-disambiguation rule:
// a trailing segment is a platform suffix iff it contains one of
// [platformKeywords]; multi-segment platforms (e.g. "arm64-darwin") are
// recognised by walking leftward from the last dash.
func splitVersionPlatform(versionPart string) (ver, platform string, ok bool) {
	for _, kw := range platformKeywords {
		if !strings.Contains(versionPart, kw) {
			continue
		}
		dash := strings.LastIndex(versionPart, "-")
		if dash < 0 {
			continue
		}
		candidate := versionPart[dash+1:]
		if !containsAny(candidate, platformKeywords) {
			continue
		}

		splitAt := dash
		before := versionPart[:dash]
		if prevDash := strings.LastIndex(before, "-"); prevDash >= 0 {
			middle := before[prevDash+1 : dash]
			if containsAny(middle, platformKeywords) {
				splitAt = prevDash
			}
		}
		return versionPart[:splitAt], versionPart[splitAt+1:], true
	}
	return "", "", false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// parseDependencyLine parses "name (requirement)" or a bare "name", the
// latter meaning an unconstrained dependency.
func parseDependencyLine(line string) Dependency {
	idx := strings.Index(line, " (")
	if idx < 0 {
		return Dependency{Name: line, Requirement: requirement.Empty()}
	}
	name := line[:idx]
	reqStr := strings.TrimSuffix(line[idx+2:], ")")
	req, err := requirement.Parse(reqStr)
	if err != nil {
		req = requirement.Empty()
	}
	return Dependency{Name: name, Requirement: req}
}

func parseGitSection(s *lineScanner, lf *Lockfile) error {
	var remote, revision, branch, tag string
	if !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "remote:") {
		remote = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "remote:"))
		s.advance()
	}
	if !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "revision:") {
		revision = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "revision:"))
		s.advance()
	}
	if !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "branch:") {
		branch = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "branch:"))
		s.advance()
	}
	if !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "tag:") {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "tag:"))
		s.advance()
	}

	for !s.eof() && strings.TrimSpace(s.current()) != "specs:" {
		s.advance()
	}
	if s.eof() {
		return nil
	}
	s.advance()

	src := GitSource{Repository: remote, Revision: revision, Branch: branch, Tag: tag}
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "    ") && line != "" {
			break
		}
		if strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "      ") {
			gem, err := parseSourceGemLine(s)
			if err != nil {
				return err
			}
			src.Gems = append(src.Gems, gem)
			continue
		}
		s.advance()
	}
	lf.Git = append(lf.Git, src)
	return nil
}

func parsePathSection(s *lineScanner, lf *Lockfile) error {
	var remote string
	if !s.eof() && strings.HasPrefix(strings.TrimSpace(s.current()), "remote:") {
		remote = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.current()), "remote:"))
		s.advance()
	}

	for !s.eof() && strings.TrimSpace(s.current()) != "specs:" {
		s.advance()
	}
	if s.eof() {
		return nil
	}
	s.advance()

	src := PathSource{Path: remote}
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "    ") && line != "" {
			break
		}
		if strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "      ") {
			gem, err := parseSourceGemLine(s)
			if err != nil {
				return err
			}
			src.Gems = append(src.Gems, gem)
			continue
		}
		s.advance()
	}
	lf.Path = append(lf.Path, src)
	return nil
}

// parseSourceGemLine parses one GIT/PATH "    name (version)" line (no
// platform, no recorded dependencies) and skips over any dependency lines
// beneath it.
func parseSourceGemLine(s *lineScanner) (GemSpec, error) {
	lineNo := s.line()
	raw := strings.TrimSpace(s.current())
	name, rawVersion, _, err := parseGemLine(raw, lineNo)
	if err != nil {
		return GemSpec{}, err
	}
	s.advance()

	for !s.eof() && strings.HasPrefix(s.current(), "      ") {
		s.advance()
	}

	v, err := version.Parse(rawVersion)
	if err != nil {
		return GemSpec{}, vgerr.New(vgerr.KindParse, "lockfile.Parse",
			fmt.Sprintf("line %d: invalid version %q", lineNo, rawVersion), err)
	}
	return GemSpec{Name: name, Version: v}, nil
}

func parsePlatforms(s *lineScanner, lf *Lockfile) {
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "  ") || line == "" {
			break
		}
		lf.Platforms = append(lf.Platforms, vgem.ParsePlatform(strings.TrimSpace(line)))
		s.advance()
	}
}

func parseDependenciesSection(s *lineScanner, lf *Lockfile) {
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, "  ") || line == "" {
			break
		}
		lf.Dependencies = append(lf.Dependencies, parseDependencyLine(strings.TrimSpace(line)))
		s.advance()
	}
}

func parseChecksums(s *lineScanner, lf *Lockfile) {
	for !s.eof() {
		line := s.current()
		if !strings.HasPrefix(line, " ") || line == "" {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			s.advance()
			continue
		}

		gemInfo, sumHex, ok := strings.Cut(trimmed, " sha256=")
		if !ok {
			s.advance()
			continue
		}
		name, versionPart, ok := strings.Cut(gemInfo, " (")
		if !ok {
			s.advance()
			continue
		}
		versionPart = strings.TrimSuffix(versionPart, ")")
		rawVersion := versionPart
		if v, _, ok := splitVersionPlatform(versionPart); ok {
			rawVersion = v
		}

		v, err := version.Parse(rawVersion)
		if err != nil {
			s.advance()
			continue
		}
		sum, err := checksum.Parse(sumHex)
		if err != nil {
			s.advance()
			continue
		}
		for i := range lf.Gems {
			if lf.Gems[i].Name == name && lf.Gems[i].Version.Compare(v) == 0 {
				lf.Gems[i].Checksum = sum
				break
			}
		}
		s.advance()
	}
}

// Format writes l in the canonical textual form: GEM, GIT, PATH, PLATFORMS,
// DEPENDENCIES, CHECKSUMS, RUBY VERSION, BUNDLED WITH, each non-empty
// section except the final BUNDLED WITH followed by a blank line. Entries within GEM/GIT/PATH/DEPENDENCIES
// are sorted by name; platforms are written in declared order.
//
// spec.md §9's "DEPENDENCIES section" open question is resolved here in
// favor of emitting it — a deliberate deviation from the upstream tool this
// format was distilled from, which omits it (see SPEC_FULL.md §4.L).
func (l *Lockfile) Format(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if len(l.Gems) > 0 {
		source := l.Source
		if source == "" {
			source = DefaultSource
		}
		fmt.Fprintln(bw, "GEM")
		fmt.Fprintf(bw, "  remote: %s/\n", strings.TrimSuffix(source, "/"))
		fmt.Fprintln(bw, "  specs:")

		gems := sortedGems(l.Gems)
		for _, g := range gems {
			writeGemLine(bw, "    ", g)
			for _, d := range g.Dependencies {
				writeDependencyLine(bw, "      ", d)
			}
		}
		fmt.Fprintln(bw)
	}

	if len(l.Git) > 0 {
		fmt.Fprintln(bw, "GIT")
		for _, src := range l.Git {
			fmt.Fprintf(bw, "  remote: %s\n", src.Repository)
			fmt.Fprintf(bw, "  revision: %s\n", src.Revision)
			if src.Branch != "" {
				fmt.Fprintf(bw, "  branch: %s\n", src.Branch)
			}
			if src.Tag != "" {
				fmt.Fprintf(bw, "  tag: %s\n", src.Tag)
			}
			fmt.Fprintln(bw, "  specs:")
			for _, g := range sortedGems(src.Gems) {
				writeGemLine(bw, "    ", g)
			}
		}
		fmt.Fprintln(bw)
	}

	for _, src := range l.Path {
		fmt.Fprintln(bw, "PATH")
		fmt.Fprintf(bw, "  remote: %s\n", src.Path)
		fmt.Fprintln(bw, "  specs:")
		for _, g := range sortedGems(src.Gems) {
			writeGemLine(bw, "    ", g)
		}
		fmt.Fprintln(bw)
	}

	if len(l.Platforms) > 0 {
		fmt.Fprintln(bw, "PLATFORMS")
		for _, p := range l.Platforms {
			fmt.Fprintf(bw, "  %s\n", p)
		}
		fmt.Fprintln(bw)
	}

	if len(l.Dependencies) > 0 {
		fmt.Fprintln(bw, "DEPENDENCIES")
		deps := append([]Dependency(nil), l.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
		for _, d := range deps {
			writeDependencyLine(bw, "  ", d)
		}
		fmt.Fprintln(bw)
	}

	var checksummed []GemSpec
	for _, g := range l.Gems {
		if !g.Checksum.IsZero() {
			checksummed = append(checksummed, g)
		}
	}
	if len(checksummed) > 0 {
		fmt.Fprintln(bw, "CHECKSUMS")
		sort.Slice(checksummed, func(i, j int) bool { return checksummed[i].Name < checksummed[j].Name })
		for _, g := range checksummed {
			if g.Platform.IsUniversal() {
				fmt.Fprintf(bw, "  %s (%s) sha256=%s\n", g.Name, g.Version, g.Checksum.Hex())
			} else {
				fmt.Fprintf(bw, "  %s (%s-%s) sha256=%s\n", g.Name, g.Version, g.Platform, g.Checksum.Hex())
			}
		}
		fmt.Fprintln(bw)
	}

	if l.RubyVersion != "" {
		fmt.Fprintln(bw, "RUBY VERSION")
		fmt.Fprintf(bw, "   ruby %s\n", l.RubyVersion)
		fmt.Fprintln(bw)
	}

	if l.BundledWith != "" {
		fmt.Fprintln(bw, "BUNDLED WITH")
		fmt.Fprintf(bw, "   %s\n", l.BundledWith)
	}

	return bw.Flush()
}

// String renders l via [Lockfile.Format] into memory.
func (l *Lockfile) String() string {
	var b strings.Builder
	_ = l.Format(&b)
	return b.String()
}

func sortedGems(gems []GemSpec) []GemSpec {
	out := append([]GemSpec(nil), gems...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeGemLine(w io.Writer, indent string, g GemSpec) {
	if g.Platform.IsUniversal() {
		fmt.Fprintf(w, "%s%s (%s)\n", indent, g.Name, g.Version)
	} else {
		fmt.Fprintf(w, "%s%s (%s-%s)\n", indent, g.Name, g.Version, g.Platform)
	}
}

func writeDependencyLine(w io.Writer, indent string, d Dependency) {
	reqStr := d.Requirement.String()
	if d.Requirement.IsEmpty() || reqStr == ">= 0" {
		fmt.Fprintf(w, "%s%s\n", indent, d.Name)
	} else {
		fmt.Fprintf(w, "%s%s (%s)\n", indent, d.Name, reqStr)
	}
}

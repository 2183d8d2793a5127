// Package manifest implements the static manifest parser of spec.md §4.P /
// §9. The manifest is a script in the source ecosystem's own language;
// evaluating it would mean running arbitrary code from a project's
// checkout, so this parses it statically at line granularity instead,
// recognising the `gem`, `group`, `source`, `ruby`, `gemspec`, and
// `git_source` directives via string-literal extraction rather than a full
// grammar. Anything the parser cannot classify as one of those directives
// is reported through [UnsupportedConstruct], never silently dropped,
// per spec.md §9's explicit instruction.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/requirement"
)

// DefaultSource is the implicit gem source when a manifest declares none.
const DefaultSource = "https://rubygems.org"

// UnsupportedConstruct reports a manifest line the static parser recognises
// as something other than a known directive: a conditional, string
// interpolation, a method call, or any other dynamic construct. Per
// spec.md §9, these are always surfaced on [Manifest.Unsupported] rather
// than silently dropped.
type UnsupportedConstruct struct {
	Line   int
	Source string
	Reason string
}

func (e *UnsupportedConstruct) Error() string {
	return fmt.Sprintf("manifest: line %d: unsupported construct (%s): %s", e.Line, e.Reason, e.Source)
}

// ParseError locates a malformed directive the parser does recognise (e.g.
// a `gem` line with no name).
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest: line %d: %s", e.Line, e.Message)
}

// Manifest is a statically parsed project manifest.
type Manifest struct {
	Entries     []vgem.ManifestEntry
	RubyVersion string
	Source      string
	Sources     []string // additional "source" directives beyond the first
	Gemspecs    []string // path or name argument of each "gemspec" directive
	GitSources  map[string]string
	Unsupported []*UnsupportedConstruct
}

// EntriesInGroup returns every entry belonging to group, plus any entry whose
// Groups is empty. The parser itself never yields an empty Groups: an entry
// declared outside a group block gets the "default" group.
func (m *Manifest) EntriesInGroup(group string) []vgem.ManifestEntry {
	var out []vgem.ManifestEntry
	for _, e := range m.Entries {
		if len(e.Groups) == 0 || contains(e.Groups, group) {
			out = append(out, e)
		}
	}
	return out
}

// EntriesWithoutGroups returns every entry not belonging to any of excluded.
func (m *Manifest) EntriesWithoutGroups(excluded []string) []vgem.ManifestEntry {
	var out []vgem.ManifestEntry
	for _, e := range m.Entries {
		excludedHere := false
		for _, g := range e.Groups {
			if contains(excluded, g) {
				excludedHere = true
				break
			}
		}
		if !excludedHere {
			out = append(out, e)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "manifest.ParseFile", "opening "+path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a manifest from r.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "manifest.Parse", "reading manifest", err)
	}
	return ParseString(string(data))
}

// ParseString parses a manifest already held in memory.
func ParseString(content string) (*Manifest, error) {
	m := &Manifest{Source: DefaultSource, GitSources: map[string]string{}}

	var groupStack [][]string
	inGitSourceBlock := false
	sawSource := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if inGitSourceBlock {
			if trimmed == "end" {
				inGitSourceBlock = false
			}
			continue
		}

		switch {
		case trimmed == "end":
			if len(groupStack) > 0 {
				groupStack = groupStack[:len(groupStack)-1]
			}

		case strings.HasPrefix(trimmed, "source "):
			if v, ok := extractStringLiteral(trimmed); ok {
				if !sawSource {
					m.Source = v
					sawSource = true
				} else {
					m.Sources = append(m.Sources, v)
				}
			}

		case strings.HasPrefix(trimmed, "ruby "):
			if v, ok := extractStringLiteral(trimmed); ok {
				m.RubyVersion = v
			}

		case trimmed == "gemspec" || strings.HasPrefix(trimmed, "gemspec "):
			target := "."
			if v, ok := extractStringOption(trimmed, "path"); ok {
				target = v
			} else if v, ok := extractStringOption(trimmed, "name"); ok {
				target = v
			}
			m.Gemspecs = append(m.Gemspecs, target)

		case strings.HasPrefix(trimmed, "git_source"):
			if sym := extractParenSymbol(trimmed); sym != "" {
				m.GitSources[sym] = ""
			}
			if strings.Contains(trimmed, "do") && !strings.Contains(trimmed, "{") {
				inGitSourceBlock = true
			}

		case strings.HasPrefix(trimmed, "group ") && strings.HasSuffix(trimmed, "do"):
			argsPart := strings.TrimSuffix(strings.TrimPrefix(trimmed, "group "), "do")
			groups := extractSymbolArray("[" + argsPart + "]")
			groupStack = append(groupStack, groups)

		case strings.HasPrefix(trimmed, "gem "):
			entry, err := parseGemDirective(trimmed, lineNo, flattenGroups(groupStack))
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, entry)

		default:
			m.Unsupported = append(m.Unsupported, &UnsupportedConstruct{
				Line:   lineNo,
				Source: trimmed,
				Reason: classifyUnsupported(trimmed),
			})
			if opensBlock(trimmed) {
				groupStack = append(groupStack, nil)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, vgerr.New(vgerr.KindIO, "manifest.Parse", "scanning manifest", err)
	}

	return m, nil
}

func flattenGroups(stack [][]string) []string {
	var out []string
	for _, groups := range stack {
		out = append(out, groups...)
	}
	return out
}

func classifyUnsupported(line string) string {
	switch {
	case strings.Contains(line, "#{"):
		return "string interpolation"
	case strings.HasPrefix(line, "if "), strings.HasPrefix(line, "unless "), strings.HasPrefix(line, "case "):
		return "conditional"
	default:
		return "unrecognized directive"
	}
}

// opensBlock guesses whether an unrecognised line opens a multi-line block
// needing a matching "end", so the group stack it affects stays balanced.
// It is a heuristic, not a parser: one-line blocks that embed their own
// "end" are not detected.
func opensBlock(line string) bool {
	switch {
	case strings.HasSuffix(line, " do"), strings.Contains(line, "do |"):
		return true
	case strings.HasPrefix(line, "if "), strings.HasPrefix(line, "unless "),
		strings.HasPrefix(line, "case "), strings.HasPrefix(line, "begin"),
		strings.HasPrefix(line, "def "), strings.HasPrefix(line, "class "),
		strings.HasPrefix(line, "module "):
		return true
	default:
		return false
	}
}

// parseGemDirective parses a "gem 'name'[, 'requirement'][, option: value...]"
// line. activeGroups carries the group names contributed by any enclosing
// "group ... do" blocks; they apply when the line has no group:/groups:
// option of its own.
func parseGemDirective(line string, lineNo int, activeGroups []string) (vgem.ManifestEntry, error) {
	argsPart := strings.TrimSpace(strings.TrimPrefix(line, "gem"))
	name, afterIdx, ok := extractStringLiteralSpan(argsPart)
	if !ok {
		return vgem.ManifestEntry{}, &ParseError{Line: lineNo, Message: fmt.Sprintf("gem directive missing a name: %q", line)}
	}
	rest := argsPart[afterIdx:]

	entry := vgem.ManifestEntry{
		Name:        name,
		Requirement: requirement.Empty(),
		Source:      vgem.SourceRegistry,
		SourceArgs:  map[string]string{},
		ShouldLoad:  true,
	}

	positional := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ","))
	if positional != "" && (positional[0] == '\'' || positional[0] == '"') {
		if v, ok := extractStringLiteral(positional); ok {
			req, err := requirement.Parse(v)
			if err != nil {
				return vgem.ManifestEntry{}, vgerr.New(vgerr.KindParse, "manifest.Parse",
					fmt.Sprintf("line %d: invalid version requirement %q", lineNo, v), err)
			}
			entry.Requirement = req
		}
	}

	if v, ok := extractStringOption(rest, "git"); ok {
		entry.Source = vgem.SourceGit
		entry.SourceArgs["git"] = v
	}
	if v, ok := extractStringOption(rest, "path"); ok {
		entry.Source = vgem.SourcePath
		entry.SourceArgs["path"] = v
	}
	if v, ok := extractStringOption(rest, "source"); ok {
		entry.SourceArgs["source"] = v
	}
	if v, ok := extractStringOption(rest, "branch"); ok {
		entry.SourceArgs["branch"] = v
	}
	if v, ok := extractStringOption(rest, "tag"); ok {
		entry.SourceArgs["tag"] = v
	}
	if v, ok := extractStringOption(rest, "ref"); ok {
		entry.SourceArgs["ref"] = v
	}

	var groups []string
	if idx := strings.Index(rest, "group:"); idx >= 0 {
		if sym, ok := extractSymbol(rest[idx+len("group:"):]); ok {
			groups = append(groups, sym)
		}
	}
	if idx := strings.Index(rest, "groups:"); idx >= 0 {
		groups = append(groups, extractSymbolArray(rest[idx+len("groups:"):])...)
	}
	if len(groups) == 0 {
		groups = append(groups, activeGroups...)
	}
	if len(groups) == 0 {
		groups = []string{vgem.DefaultGroup}
	}
	entry.Groups = groups

	var platforms []string
	if idx := strings.Index(rest, "platforms:"); idx >= 0 {
		platforms = extractSymbolArray(rest[idx+len("platforms:"):])
	} else if idx := strings.Index(rest, "platform:"); idx >= 0 {
		if sym, ok := extractSymbol(rest[idx+len("platform:"):]); ok {
			platforms = append(platforms, sym)
		}
	}
	for _, p := range platforms {
		entry.Platforms = append(entry.Platforms, vgem.ParsePlatform(p))
	}

	if v, ok := extractBoolOption(rest, "require"); ok {
		entry.ShouldLoad = v
	}

	return entry, nil
}

// extractStringLiteral returns the first quoted literal in s (single or
// double quotes).
func extractStringLiteral(s string) (string, bool) {
	v, _, ok := extractStringLiteralSpan(s)
	return v, ok
}

// extractStringLiteralSpan is like extractStringLiteral but also returns the
// index in s immediately after the literal's closing quote, so callers can
// keep scanning the remainder of the line.
func extractStringLiteralSpan(s string) (value string, end int, ok bool) {
	start := strings.IndexAny(s, `"'`)
	if start < 0 {
		return "", 0, false
	}
	quote := s[start]
	afterOpen := s[start+1:]
	closeIdx := strings.IndexByte(afterOpen, quote)
	if closeIdx < 0 {
		return "", 0, false
	}
	return afterOpen[:closeIdx], start + 1 + closeIdx + 1, true
}

// extractStringOption finds "key: <literal>" anywhere in s and returns the
// literal's contents.
func extractStringOption(s, key string) (string, bool) {
	idx := strings.Index(s, key+":")
	if idx < 0 {
		return "", false
	}
	return extractStringLiteral(s[idx+len(key)+1:])
}

// extractBoolOption finds "key: true" or "key: false" anywhere in s.
func extractBoolOption(s, key string) (bool, bool) {
	idx := strings.Index(s, key+":")
	if idx < 0 {
		return false, false
	}
	rest := strings.TrimSpace(s[idx+len(key)+1:])
	switch {
	case strings.HasPrefix(rest, "false"):
		return false, true
	case strings.HasPrefix(rest, "true"):
		return true, true
	default:
		return false, false
	}
}

// extractSymbol extracts a Ruby symbol or string literal: ":development" or
// "'development'" both yield "development".
func extractSymbol(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if s[0] == ':' {
		rest := s[1:]
		end := strings.IndexAny(rest, ", )]")
		if end < 0 {
			end = len(rest)
		}
		sym := strings.TrimSpace(rest[:end])
		if sym == "" {
			return "", false
		}
		return sym, true
	}
	return extractStringLiteral(s)
}

// extractSymbolArray extracts every symbol/string from a Ruby array
// literal ("[:a, :b]") or a single bare symbol option ("groups: :test").
func extractSymbolArray(s string) []string {
	trimmed := strings.TrimSpace(s)
	var body string
	if i := strings.Index(trimmed, "["); i >= 0 {
		j := strings.Index(trimmed, "]")
		if j < 0 {
			j = len(trimmed)
		}
		body = trimmed[i+1 : j]
	} else {
		body = trimmed
		if k := strings.IndexAny(body, ",)\n"); k >= 0 {
			body = body[:k]
		}
	}

	var out []string
	for _, part := range strings.Split(body, ",") {
		if sym, ok := extractSymbol(part); ok {
			out = append(out, sym)
		}
	}
	return out
}

// extractParenSymbol extracts the symbol inside a directive's first
// parenthesised argument, e.g. "git_source(:stash)" -> "stash".
func extractParenSymbol(line string) string {
	start := strings.Index(line, "(")
	if start < 0 {
		return ""
	}
	end := strings.Index(line[start:], ")")
	if end < 0 {
		return ""
	}
	sym, _ := extractSymbol(line[start+1 : start+end])
	return sym
}

// Package requirement implements version-range expressions (spec.md §4.A):
// a comma-separated list of atoms ANDed together, each atom an operator and
// a version. "~>" (pessimistic) atoms are expanded to a >=/< pair at parse
// time. A Requirement is represented internally as a sorted list of
// disjoint half-open intervals over the version order — a union, since a
// "!=" atom can split an otherwise-contiguous range in two.
package requirement

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/version"
)

// Requirement is a compiled version-range expression.
type Requirement struct {
	atoms     []string // normalized atom strings, for Format/round-trip
	intervals []interval
}

// bound is one edge of an interval. A nil v means unbounded in that
// direction.
type bound struct {
	v         *version.Version
	inclusive bool
}

type interval struct {
	lo, hi bound
}

// Empty returns the universal requirement (matches every version),
// spec.md §4.A: "Empty requirement means any".
func Empty() Requirement {
	return Requirement{intervals: []interval{universe()}}
}

func universe() interval {
	return interval{lo: bound{}, hi: bound{}}
}

// Parse parses a comma-separated requirement expression.
func Parse(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty(), nil
	}

	parts := strings.Split(s, ",")
	atoms := make([]string, 0, len(parts))
	ivs := []interval{universe()}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Requirement{}, vgerr.New(vgerr.KindParse, "requirement.Parse",
				fmt.Sprintf("empty atom in requirement %q", s), nil)
		}
		op, vs, err := splitAtom(p)
		if err != nil {
			return Requirement{}, err
		}
		v, err := version.Parse(vs)
		if err != nil {
			return Requirement{}, vgerr.New(vgerr.KindParse, "requirement.Parse",
				fmt.Sprintf("invalid version %q in atom %q", vs, p), err)
		}

		atomIvs, err := atomIntervals(op, v, vs)
		if err != nil {
			return Requirement{}, err
		}
		ivs = intersect(ivs, atomIvs)
		atoms = append(atoms, op+" "+v.String())
	}

	return Requirement{atoms: atoms, intervals: ivs}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Requirement {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether v satisfies the requirement.
func (r Requirement) Contains(v version.Version) bool {
	// Binary search isn't meaningfully cheaper than a linear scan for the
	// handful of intervals a real requirement compiles to, and avoids
	// needing a comparator over the bound type; scan is kept deliberately
	// simple.
	for _, iv := range r.intervals {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the requirement's original atom list was empty
// (matches spec.md's "empty requirement means any").
func (r Requirement) IsEmpty() bool { return len(r.atoms) == 0 }

// String formats the requirement back to its comma-separated atom form.
// Re-parsing String()'s output yields a Requirement containing the same
// set of versions (spec.md §8 property 2): each atom is reconstructed from
// its own normalized operator and version, so Parse is deterministic over
// it.
func (r Requirement) String() string {
	if len(r.atoms) == 0 {
		return ""
	}
	return strings.Join(r.atoms, ", ")
}

func (iv interval) contains(v version.Version) bool {
	if iv.lo.v != nil {
		c := v.Compare(*iv.lo.v)
		if c < 0 || (c == 0 && !iv.lo.inclusive) {
			return false
		}
	}
	if iv.hi.v != nil {
		c := v.Compare(*iv.hi.v)
		if c > 0 || (c == 0 && !iv.hi.inclusive) {
			return false
		}
	}
	return true
}

func splitAtom(atom string) (op, vs string, err error) {
	ops := []string{">=", "<=", "!=", "~>", "=", ">", "<"}
	for _, o := range ops {
		if strings.HasPrefix(atom, o) {
			rest := strings.TrimSpace(atom[len(o):])
			if rest == "" {
				return "", "", vgerr.New(vgerr.KindParse, "requirement.splitAtom",
					fmt.Sprintf("missing version in atom %q", atom), nil)
			}
			return o, rest, nil
		}
	}
	// Bare version with no operator tolerates an implicit "=", per
	// spec.md §4.A "tolerates ... optional leading =".
	if atom[0] >= '0' && atom[0] <= '9' {
		return "=", atom, nil
	}
	return "", "", vgerr.New(vgerr.KindParse, "requirement.splitAtom",
		fmt.Sprintf("unknown operator token in atom %q", atom), nil)
}

// atomIntervals computes the interval-set a single atom contributes.
func atomIntervals(op string, v version.Version, rawVersion string) ([]interval, error) {
	switch op {
	case "=":
		return []interval{{lo: bound{&v, true}, hi: bound{&v, true}}}, nil
	case ">":
		return []interval{{lo: bound{&v, false}, hi: bound{}}}, nil
	case ">=":
		return []interval{{lo: bound{&v, true}, hi: bound{}}}, nil
	case "<":
		return []interval{{lo: bound{}, hi: bound{&v, false}}}, nil
	case "<=":
		return []interval{{lo: bound{}, hi: bound{&v, true}}}, nil
	case "!=":
		return []interval{
			{lo: bound{}, hi: bound{&v, false}},
			{lo: bound{&v, false}, hi: bound{}},
		}, nil
	case "~>":
		upper, err := pessimisticUpperBound(rawVersion)
		if err != nil {
			return nil, err
		}
		return []interval{{lo: bound{&v, true}, hi: bound{&upper, false}}}, nil
	default:
		return nil, vgerr.New(vgerr.KindParse, "requirement.atomIntervals",
			fmt.Sprintf("unknown operator %q", op), nil)
	}
}

// pessimisticUpperBound computes the exclusive upper bound for "~> X.Y"
// (=> "< (X+1).0") and "~> X.Y.Z" with Z != 0 (=> "< X.(Y+1).0"), per
// spec.md §4.A.
func pessimisticUpperBound(raw string) (version.Version, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	// Strip any prerelease/string trailer for the purposes of computing
	// which numeric segment to bump; the pessimistic operator only makes
	// sense against a numeric prefix.
	numeric := make([]string, 0, len(parts))
	for _, p := range parts {
		if onlyDigits(p) {
			numeric = append(numeric, p)
			continue
		}
		break
	}
	if len(numeric) == 0 {
		return version.Version{}, vgerr.New(vgerr.KindParse, "requirement.pessimisticUpperBound",
			fmt.Sprintf("~> requires a numeric version, got %q", raw), nil)
	}

	bumpIdx := 0
	if len(numeric) > 1 {
		// "~> X.Y" bumps X (index 0); "~> X.Y.Z" bumps Y (index
		// len-2); in general, bump the second-to-last segment.
		bumpIdx = len(numeric) - 2
	}

	n, err := parseUint(numeric[bumpIdx])
	if err != nil {
		return version.Version{}, vgerr.New(vgerr.KindParse, "requirement.pessimisticUpperBound",
			fmt.Sprintf("non-numeric segment %q", numeric[bumpIdx]), err)
	}

	segs := append(append([]string{}, numeric[:bumpIdx]...), fmt_uint(n+1))
	out := strings.Join(segs, ".") + ".0"
	return version.Parse(out)
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a digit: %q", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}

func fmt_uint(n uint64) string {
	return fmt.Sprintf("%d", n)
}

// intersect computes the intersection of two interval-sets (unions of
// disjoint intervals), returning a new disjoint union.
func intersect(a, b []interval) []interval {
	var out []interval
	for _, x := range a {
		for _, y := range b {
			if iv, ok := intersectOne(x, y); ok {
				out = append(out, iv)
			}
		}
	}
	return mergeAdjacent(out)
}

func intersectOne(a, b interval) (interval, bool) {
	lo := maxBound(a.lo, b.lo)
	hi := minBound(a.hi, b.hi)
	if lo.v != nil && hi.v != nil {
		c := lo.v.Compare(*hi.v)
		if c > 0 {
			return interval{}, false
		}
		if c == 0 && !(lo.inclusive && hi.inclusive) {
			return interval{}, false
		}
	}
	return interval{lo: lo, hi: hi}, true
}

// maxBound returns the tighter (larger) of two lower bounds.
func maxBound(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	c := a.v.Compare(*b.v)
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		return bound{v: a.v, inclusive: a.inclusive && b.inclusive}
	}
}

// minBound returns the tighter (smaller) of two upper bounds.
func minBound(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	c := a.v.Compare(*b.v)
	switch {
	case c < 0:
		return a
	case c > 0:
		return b
	default:
		return bound{v: a.v, inclusive: a.inclusive && b.inclusive}
	}
}

// mergeAdjacent merges touching/overlapping intervals in a union that may
// have grown non-disjoint pairs out of intersect's cartesian product (this
// can happen when a "!=" atom's two half-intervals each partially overlap
// the same incoming interval).
func mergeAdjacent(ivs []interval) []interval {
	if len(ivs) < 2 {
		return ivs
	}
	// Simple O(n^2) merge pass; requirement interval counts are tiny
	// (bounded by the number of atoms in the expression).
	changed := true
	for changed {
		changed = false
		for i := 0; i < len(ivs); i++ {
			for j := i + 1; j < len(ivs); j++ {
				if merged, ok := tryMerge(ivs[i], ivs[j]); ok {
					ivs[i] = merged
					ivs = append(ivs[:j], ivs[j+1:]...)
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	return ivs
}

func tryMerge(a, b interval) (interval, bool) {
	// a and b overlap or touch iff neither is strictly before the other.
	if strictlyBefore(a.hi, b.lo) || strictlyBefore(b.hi, a.lo) {
		return interval{}, false
	}
	return interval{lo: minLowerBound(a.lo, b.lo), hi: maxUpperBound(a.hi, b.hi)}, true
}

// strictlyBefore reports whether upper bound hi is strictly less than
// lower bound lo (i.e. the intervals they delimit cannot touch).
func strictlyBefore(hi, lo bound) bool {
	if hi.v == nil || lo.v == nil {
		return false
	}
	c := hi.v.Compare(*lo.v)
	if c < 0 {
		return true
	}
	if c == 0 && !(hi.inclusive || lo.inclusive) {
		return true
	}
	return false
}

func minLowerBound(a, b bound) bound {
	if a.v == nil || b.v == nil {
		return bound{}
	}
	c := a.v.Compare(*b.v)
	switch {
	case c < 0:
		return a
	case c > 0:
		return b
	default:
		return bound{v: a.v, inclusive: a.inclusive || b.inclusive}
	}
}

func maxUpperBound(a, b bound) bound {
	if a.v == nil || b.v == nil {
		return bound{}
	}
	c := a.v.Compare(*b.v)
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		return bound{v: a.v, inclusive: a.inclusive || b.inclusive}
	}
}

// Cache memoizes parsed requirements by (gem name, requirement string),
// per spec.md §4.G's "range cache" so identical constraints across many
// dependents reuse the same compiled Requirement.
type Cache struct {
	mu sync.RWMutex
	m  map[cacheKey]Requirement
}

type cacheKey struct{ name, requirement string }

// NewCache constructs an empty requirement cache.
func NewCache() *Cache {
	return &Cache{m: make(map[cacheKey]Requirement)}
}

// Get parses (or returns the memoized parse of) the requirement string for
// the given gem name.
func (c *Cache) Get(name, req string) (Requirement, error) {
	key := cacheKey{name, req}
	c.mu.RLock()
	if r, ok := c.m[key]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	c.mu.RUnlock()

	r, err := Parse(req)
	if err != nil {
		return Requirement{}, err
	}

	c.mu.Lock()
	c.m[key] = r
	c.mu.Unlock()
	return r, nil
}

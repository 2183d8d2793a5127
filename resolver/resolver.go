// Package resolver implements the conflict-driven dependency resolution
// algorithm of spec.md §4.G: starting from a virtual root carrying the
// manifest's direct dependencies, it searches for an assignment of one
// version per package that satisfies every constraint placed on it,
// backtracking to a lower version whenever a choice turns out to be
// incompatible with a constraint discovered later.
//
// original_source/src/resolver.rs hands this search off to the `pubgrub`
// crate; no published Go module in this pack carries a verified
// standalone PubGrub implementation (other_examples only shows one file
// of application code against `github.com/contriboss/pubgrub-go`, not
// that library's own source, so its exact API can't be grounded
// reliably here). Resolve instead implements the same conflict-driven
// shape directly: depth-first search over version choices with
// chronological backtracking, closest in spirit to the "DPLL with
// backjumping" family PubGrub belongs to, without that algorithm's
// incompatibility-learning optimization. Every decision is a stack frame
// (see resolveFrom); a downstream failure — including a later
// constraint invalidating an earlier, already-assigned package — returns
// up the stack until some frame still has an untried lower version, and
// that frame's assignment is replaced and the search resumes below it.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/obslog"
	"github.com/vgem/vgem/requirement"
	"github.com/vgem/vgem/version"
)

// rootName is the virtual root package carrying the manifest's direct
// dependencies, spec.md §4.G. It never appears in the final output.
const rootName = "___root___"

// OracleVersion is one candidate release an [Oracle] reports for a
// package, together with its runtime dependencies.
type OracleVersion struct {
	Version     version.Version
	Platform    vgem.Platform
	Prerelease  bool
	RuntimeDeps []vgem.Dependency
	RubyVersion *requirement.Requirement
}

// Oracle answers "what versions of this package exist, and what does each
// depend on". The registry client is the production implementation;
// resolver tests substitute an in-memory fake.
type Oracle interface {
	Versions(ctx context.Context, name string) ([]OracleVersion, error)
}

// Options configures a resolve run.
type Options struct {
	Platforms    []vgem.Platform
	Prerelease   bool
	RequireCache *requirement.Cache
}

// Error reports an unsatisfiable set of constraints, spec.md §8 scenario
// S3: the message names every dependent that contributed a constraint on
// the conflicting package, and the package itself.
type Error struct {
	Package    string
	Dependents []DependentConstraint
}

// DependentConstraint records one package's requirement contribution
// toward a conflict.
type DependentConstraint struct {
	Dependent   string
	DependentV  version.Version
	Requirement string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("no version of %q satisfies all constraints:", e.Package)
	for _, d := range e.Dependents {
		msg += fmt.Sprintf(" %s %s requires %s %q;", d.Dependent, d.DependentV, e.Package, d.Requirement)
	}
	return msg
}

type constraintSource struct {
	dependent  string
	dependentV version.Version
	req        requirement.Requirement
	reqString  string
}

// searchState is the DFS frame's working set. Every branch point clones
// it (cloneState) before mutating, so an unwound backtrack never leaves
// a trace of the candidate it rejected.
type searchState struct {
	assigned    map[string]vgem.ResolvedEntry
	constraints map[string][]constraintSource
}

func cloneState(s *searchState) *searchState {
	next := &searchState{
		assigned:    make(map[string]vgem.ResolvedEntry, len(s.assigned)),
		constraints: make(map[string][]constraintSource, len(s.constraints)),
	}
	for k, v := range s.assigned {
		next.assigned[k] = v
	}
	for k, v := range s.constraints {
		cp := make([]constraintSource, len(v))
		copy(cp, v)
		next.constraints[k] = cp
	}
	return next
}

// Resolve runs the resolver over root (the manifest's direct dependencies)
// using oracle for version/dependency data, per spec.md §4.G.
func Resolve(ctx context.Context, root []vgem.Dependency, oracle Oracle, opts Options) ([]vgem.ResolvedEntry, error) {
	ctx, span := obslog.StartSpan(ctx, "resolver", "Resolve")
	defer span.End()

	if opts.RequireCache == nil {
		opts.RequireCache = requirement.NewCache()
	}

	prewarm(ctx, root, oracle)

	state := &searchState{
		assigned:    map[string]vgem.ResolvedEntry{},
		constraints: map[string][]constraintSource{},
	}
	for _, d := range root {
		state.constraints[d.Name] = append(state.constraints[d.Name], constraintSource{
			dependent:  rootName,
			dependentV: version.MustParse("0.0.0"),
			req:        d.Requirement,
			reqString:  d.Requirement.String(),
		})
	}

	candCache := map[string][]OracleVersion{}
	final, err := resolveFrom(ctx, namesOf(root), state, oracle, opts, candCache)
	if err != nil {
		return nil, err
	}

	out := make([]vgem.ResolvedEntry, 0, len(final.assigned))
	for name, entry := range final.assigned {
		if name == rootName {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// resolveFrom is the search's single recursive step: decide (or
// re-validate) the package at the head of queue, then recurse on the
// rest. A name can appear in queue more than once — once per package
// whose dependency list names it — so that a constraint contributed by
// a package decided deep in the search still gets checked against a
// shallow package's earlier choice (spec.md §3's constraint invariant).
//
// On conflict, the loop over survivors below tries the next-highest
// candidate for the package currently being decided; if every candidate
// for some package fails, that failure propagates to the caller, which
// is itself mid-way through trying one of *its* candidates, and so tries
// its next one. This is the backtracking spec.md §4.G calls for: a
// conflict several levels down in the dependency graph can unwind all
// the way to an early, shallow decision and force a lower version there.
func resolveFrom(ctx context.Context, queue []string, state *searchState, oracle Oracle, opts Options, candCache map[string][]OracleVersion) (*searchState, error) {
	if len(queue) == 0 {
		return state, nil
	}
	name, rest := queue[0], queue[1:]

	candidates, ok := candCache[name]
	if !ok {
		var err error
		candidates, err = oracle.Versions(ctx, name)
		if err != nil {
			return nil, vgerr.New(vgerr.KindResolver, "resolver.Resolve", "fetching versions for "+name, err)
		}
		candCache[name] = candidates
	}

	if existing, done := state.assigned[name]; done {
		// Already decided by an ancestor frame; a later-discovered
		// constraint may have invalidated that choice, so re-check it
		// before trusting it any further.
		if !satisfiesAll(existing.Version, state.constraints[name]) {
			return nil, conflictError(name, state.constraints[name])
		}
		return resolveFrom(ctx, rest, state, oracle, opts, candCache)
	}

	survivors := filterSurvivors(candidates, state.constraints[name], opts)
	if len(survivors) == 0 {
		return nil, conflictError(name, state.constraints[name])
	}

	var lastErr error
	for _, cand := range survivors {
		next := cloneState(state)
		next.assigned[name] = vgem.ResolvedEntry{
			Name:            name,
			Version:         cand.Version,
			Platform:        cand.Platform,
			RuntimeDeps:     cand.RuntimeDeps,
			RubyRequirement: cand.RubyVersion,
		}

		nextQueue := append([]string(nil), rest...)
		for _, dep := range cand.RuntimeDeps {
			next.constraints[dep.Name] = append(next.constraints[dep.Name], constraintSource{
				dependent:  name,
				dependentV: cand.Version,
				req:        dep.Requirement,
				reqString:  dep.Requirement.String(),
			})
			nextQueue = append(nextQueue, dep.Name)
		}

		result, err := resolveFrom(ctx, nextQueue, next, oracle, opts, candCache)
		if err == nil {
			return result, nil
		}
		lastErr = err // try the next-lower candidate for name
	}
	return nil, lastErr
}

func satisfiesAll(v version.Version, constraints []constraintSource) bool {
	for _, cs := range constraints {
		if !cs.req.Contains(v) {
			return false
		}
	}
	return true
}

func conflictError(name string, constraints []constraintSource) error {
	deps := make([]DependentConstraint, 0, len(constraints))
	for _, cs := range constraints {
		deps = append(deps, DependentConstraint{
			Dependent:   cs.dependent,
			DependentV:  cs.dependentV,
			Requirement: cs.reqString,
		})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Dependent < deps[j].Dependent })
	return &Error{Package: name, Dependents: deps}
}

// filterSurvivors applies spec.md §4.G's selection policy: filter
// candidates by every accumulated constraint, by the platform set, and
// by the prerelease flag, returning the survivors ordered highest first
// — preferring a platform-specific release over a universal one at
// equal version (the resolved "transitive platform selection" open
// question, SPEC_FULL.md §4.G). resolveFrom walks this list in order,
// so the first entry is tried first and later ones are backtracking
// fallbacks, not just tie-break noise.
func filterSurvivors(candidates []OracleVersion, constraints []constraintSource, opts Options) []OracleVersion {
	var survivors []OracleVersion
	for _, c := range candidates {
		if !c.Platform.In(opts.Platforms) {
			continue
		}
		if c.Version.IsPrerelease() && !opts.Prerelease {
			continue
		}
		if !satisfiesAll(c.Version, constraints) {
			continue
		}
		survivors = append(survivors, c)
	}

	sort.Slice(survivors, func(i, j int) bool {
		cmp := survivors[i].Version.Compare(survivors[j].Version)
		if cmp != 0 {
			return cmp > 0
		}
		// Equal version: platform-specific beats universal.
		iUniv := survivors[i].Platform.IsUniversal()
		jUniv := survivors[j].Platform.IsUniversal()
		return !iUniv && jUniv
	})
	return survivors
}

// prewarm fans out a Versions call for every direct dependency in
// parallel before resolution starts, so the oracle's cache is populated
// ahead of the sequential resolve loop's blocking calls, spec.md §4.G.
// Errors are ignored here; the real fetch (with its error path) happens
// again inside Resolve.
func prewarm(ctx context.Context, root []vgem.Dependency, oracle Oracle) {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range root {
		name := d.Name
		g.Go(func() error {
			_, _ = oracle.Versions(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

func namesOf(deps []vgem.Dependency) []string {
	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

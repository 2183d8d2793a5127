package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/archive"
	"github.com/vgem/vgem/download"
	"github.com/vgem/vgem/extbuild"
	"github.com/vgem/vgem/internal/checksum"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/lockfile"
	"github.com/vgem/vgem/obslog"
	"github.com/vgem/vgem/signature"
	"github.com/vgem/vgem/standalone"
	"github.com/vgem/vgem/store"
)

// Phase names one of the install pipeline's nine barriers, spec.md §4.J.
type Phase int

const (
	PhaseFilter Phase = iota
	PhaseSkip
	PhaseLocalPrecheck
	PhaseDownload
	PhaseVerify
	PhaseExtract
	PhaseBuild
	PhasePathGit
	PhaseStandalone
)

func (p Phase) String() string {
	switch p {
	case PhaseFilter:
		return "filter"
	case PhaseSkip:
		return "skip"
	case PhaseLocalPrecheck:
		return "local-precheck"
	case PhaseDownload:
		return "download"
	case PhaseVerify:
		return "verify"
	case PhaseExtract:
		return "extract"
	case PhaseBuild:
		return "build"
	case PhasePathGit:
		return "path-git"
	case PhaseStandalone:
		return "standalone"
	default:
		return "unknown"
	}
}

// Observer receives one call per unit of work completed within a phase,
// spec.md §4.J/§5: "Progress is reported by an injected observer
// interface (one call per completed unit)."
type Observer interface {
	OnUnit(phase Phase, gem string, err error)
}

// NullObserver discards all progress notifications.
type NullObserver struct{}

func (NullObserver) OnUnit(Phase, string, error) {}

// Options configures a [Pipeline] run, spec.md §4.J's input: a trust
// policy, a concurrency budget, and the redownload/local_only/
// prefer_local/no_cache flags.
type Options struct {
	Concurrency int
	Redownload  bool
	LocalOnly   bool
	PreferLocal bool
	NoCache     bool
	RuntimeExe  string // e.g. "ruby", used for C-extension builds and binstubs
	ShebangMode store.ShebangStyle
	GitCacheDir string // clone cache for git-sourced gems; defaults under os.TempDir()

	// Standalone, when set, runs phase 9 (spec.md §4.J/§4.K) after every
	// other phase completes: a self-contained loader bundle is emitted
	// in a "bundle" directory under StandaloneDir (default: the vendor root) from
	// whatever this run just installed.
	Standalone    bool
	StandaloneDir string
}

// Pipeline drives spec.md §4.J's nine-phase barrier sequence over a
// resolved lockfile.
type Pipeline struct {
	Lockfile *lockfile.Lockfile
	Layout   store.Layout
	Download *download.Manager
	Verifier *signature.Verifier
	Builder  *extbuild.Builder
	Observer Observer
	Opts     Options
}

// New constructs a Pipeline with sane defaults (concurrency 4, a null
// observer) for the given dependencies.
func New(lf *lockfile.Lockfile, layout store.Layout, dl *download.Manager, verifier *signature.Verifier, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{
		Lockfile: lf,
		Layout:   layout,
		Download: dl,
		Verifier: verifier,
		Builder:  extbuild.NewBuilder(opts.RuntimeExe, ""),
		Observer: NullObserver{},
		Opts:     opts,
	}
}

// unit is one registry gem carried through the pipeline's phases.
type unit struct {
	spec      lockfile.GemSpec
	release   vgem.Release
	cachePath string
	checksum  checksum.SHA256
}

// Run executes all nine phases in order, each an explicit barrier: every
// unit finishes phase N before any unit starts phase N+1.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, span := obslog.StartSpan(ctx, "install", "Run")
	defer span.End()

	units := p.filter()
	units = p.skip(units)

	if p.Opts.LocalOnly {
		if err := p.localPrecheck(units); err != nil {
			return err
		}
	}

	if err := p.download(ctx, units); err != nil {
		return err
	}

	if p.Verifier != nil && p.Verifier.Policy() != signature.None {
		if err := p.verify(ctx, units); err != nil {
			return err
		}
	}

	if err := p.extract(ctx, units); err != nil {
		return err
	}

	p.buildAndBinstub(ctx, units)

	if err := p.pathAndGit(ctx); err != nil {
		return err
	}

	if p.Opts.Standalone {
		if err := p.emitStandalone(); err != nil {
			return err
		}
	}

	return nil
}

// emitStandalone implements phase 9: optional standalone emit (spec.md
// §4.J step 9, §4.K). Runs once, after every other phase's barrier, over
// the pipeline's own lockfile and layout — so it bundles whatever this
// install run just produced, not a stale prior install.
func (p *Pipeline) emitStandalone() error {
	dir := p.Opts.StandaloneDir
	if dir == "" {
		dir = p.Layout.Root
	}
	err := standalone.Emit(p.Layout, p.Lockfile, standalone.Options{
		BundleRoot: dir,
		Runtime:    p.Layout.Runtime,
		Platform:   vgem.CurrentPlatform(),
	})
	p.Observer.OnUnit(PhaseStandalone, "bundle", err)
	return err
}

// filter implements phase 1: restrict to entries whose platform matches
// the current platform. Universal entries always match; concrete entries
// match iff their arch/os equal the current platform's.
func (p *Pipeline) filter() []unit {
	current := vgem.CurrentPlatform()
	out := make([]unit, 0, len(p.Lockfile.Gems))
	for _, g := range p.Lockfile.Gems {
		if !g.Platform.Matches(current) {
			continue
		}
		out = append(out, unit{
			spec:     g,
			release:  vgem.Release{Name: g.Name, Version: g.Version, Platform: g.Platform},
			checksum: g.Checksum,
		})
	}
	return out
}

// skip implements phase 2: unless Redownload is set, drop entries whose
// gem_dir already exists.
func (p *Pipeline) skip(units []unit) []unit {
	if p.Opts.Redownload {
		return units
	}
	out := units[:0]
	for _, u := range units {
		if _, err := os.Stat(p.Layout.GemDir(u.release)); err == nil {
			p.Observer.OnUnit(PhaseSkip, u.release.FullName(), nil)
			continue
		}
		out = append(out, u)
	}
	return out
}

// localPrecheck implements phase 3: under local_only, every remaining
// unit must already be cached, or the whole pipeline fails fast naming
// every missing gem.
func (p *Pipeline) localPrecheck(units []unit) error {
	var missing []string
	for _, u := range units {
		if _, err := os.Stat(p.Download.CachePath(u.release)); err != nil {
			missing = append(missing, u.release.FullName())
		}
	}
	if len(missing) > 0 {
		return vgerr.New(vgerr.KindNotFound, "install.Pipeline.Run",
			fmt.Sprintf("local_only: missing from cache: %v", missing), nil)
	}
	return nil
}

// download implements phase 4: bounded concurrent acquisition via the
// download manager.
func (p *Pipeline) download(ctx context.Context, units []unit) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Opts.Concurrency)
	for i := range units {
		i := i
		g.Go(func() error {
			path, err := p.Download.Acquire(ctx, units[i].release)
			p.Observer.OnUnit(PhaseDownload, units[i].release.FullName(), err)
			if err != nil {
				return err
			}
			units[i].cachePath = path
			return nil
		})
	}
	return g.Wait()
}

// verify implements phase 5: each cached archive is checked against the
// trust store; any failure is fatal to the whole install.
func (p *Pipeline) verify(ctx context.Context, units []unit) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.Opts.Concurrency)
	for i := range units {
		i := i
		g.Go(func() error {
			f, err := os.Open(units[i].cachePath)
			if err != nil {
				err = vgerr.New(vgerr.KindIO, "install.Pipeline.verify", units[i].cachePath, err)
				p.Observer.OnUnit(PhaseVerify, units[i].release.FullName(), err)
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			err = p.Verifier.Verify(units[i].release.FullName(), f, info.Size())
			var warn *signature.UnsignedWarning
			if asUnsignedWarning(err, &warn) {
				obslog.Info(ctx).Str("gem", units[i].release.FullName()).Msg(warn.Error())
				err = nil
			}
			p.Observer.OnUnit(PhaseVerify, units[i].release.FullName(), err)
			return err
		})
	}
	return g.Wait()
}

func asUnsignedWarning(err error, target **signature.UnsignedWarning) bool {
	w, ok := err.(*signature.UnsignedWarning)
	if !ok {
		return false
	}
	*target = w
	return true
}

// extract implements phase 6: each unit creates its gem_dir, extracts
// data.tar.gz into it, and writes the decompressed metadata as its
// <full_name>.spec file.
func (p *Pipeline) extract(ctx context.Context, units []unit) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.Opts.Concurrency)
	for i := range units {
		i := i
		g.Go(func() error {
			err := p.extractOne(units[i])
			p.Observer.OnUnit(PhaseExtract, units[i].release.FullName(), err)
			return err
		})
	}
	return g.Wait()
}

func (p *Pipeline) extractOne(u unit) error {
	gemDir := p.Layout.GemDir(u.release)
	if err := os.MkdirAll(gemDir, 0o755); err != nil {
		return vgerr.New(vgerr.KindIO, "install.Pipeline.extractOne", "creating "+gemDir, err)
	}

	f, err := os.Open(u.cachePath)
	if err != nil {
		return vgerr.New(vgerr.KindIO, "install.Pipeline.extractOne", u.cachePath, err)
	}
	defer f.Close()

	if err := archive.ExtractPayload(u.release.Name, f, gemDir); err != nil {
		return err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return vgerr.New(vgerr.KindIO, "install.Pipeline.extractOne", "rewinding "+u.cachePath, err)
	}
	meta, err := archive.ExtractMetadata(u.release.Name, f)
	if err != nil {
		return err
	}

	specPath := p.Layout.SpecPath(u.release)
	if err := os.MkdirAll(filepath.Dir(specPath), 0o755); err != nil {
		return vgerr.New(vgerr.KindIO, "install.Pipeline.extractOne", "creating specifications dir", err)
	}
	if err := os.WriteFile(specPath, meta, 0o644); err != nil {
		return vgerr.New(vgerr.KindIO, "install.Pipeline.extractOne", "writing "+specPath, err)
	}
	return nil
}

// buildAndBinstub implements phase 7: sequential (external processes,
// shared build tools). Per-entry failures are recorded on the observer
// but do not themselves abort the loop, per spec.md §4.J's "overall
// policy decides whether to proceed" — the caller sees each build's error
// (BuildResult.Err) via the observer and decides.
func (p *Pipeline) buildAndBinstub(ctx context.Context, units []unit) {
	for _, u := range units {
		result := p.Builder.Build(ctx, u.release.Name, p.Layout.GemDir(u.release), u.release.Platform)
		p.Observer.OnUnit(PhaseBuild, u.release.FullName(), result.Err)

		if _, err := p.Layout.WriteBinstubs(u.release, p.Opts.RuntimeExe, p.Opts.ShebangMode); err != nil {
			p.Observer.OnUnit(PhaseBuild, u.release.FullName(), err)
		}
	}
}

// pathAndGit implements phase 8.
func (p *Pipeline) pathAndGit(ctx context.Context) error {
	for _, ps := range p.Lockfile.Path {
		for _, g := range ps.Gems {
			release := vgem.Release{Name: g.Name, Version: g.Version, Platform: g.Platform}
			err := MaterializePath(p.Layout, release, ps.Path)
			p.Observer.OnUnit(PhasePathGit, release.FullName(), err)
			if err != nil {
				return err
			}
		}
	}

	for _, gs := range p.Lockfile.Git {
		for _, g := range gs.Gems {
			release := vgem.Release{Name: g.Name, Version: g.Version, Platform: g.Platform}
			err := p.materializeGit(ctx, release, gs)
			p.Observer.OnUnit(PhasePathGit, release.FullName(), err)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

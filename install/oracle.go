// Package install implements the install pipeline of spec.md §4.J: an
// explicit, barrier-per-phase state machine that takes a resolved
// lockfile and a target vendor directory and produces extracted,
// verified, built gems with generated binstubs.
package install

import (
	"context"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/registryclient"
	"github.com/vgem/vgem/requirement"
	"github.com/vgem/vgem/resolver"
	"github.com/vgem/vgem/version"
)

// RegistryOracle adapts a [registryclient.Client] to [resolver.Oracle],
// the shape the production resolver run actually uses (spec.md §4.G: "in
// production, backed by the registry client").
type RegistryOracle struct {
	Client *registryclient.Client
	Cache  *requirement.Cache
}

// NewRegistryOracle wraps client, sharing reqCache (or a fresh one, if
// nil) with the resolver so identical requirement strings across gems
// reuse one parsed Requirement.
func NewRegistryOracle(client *registryclient.Client, reqCache *requirement.Cache) *RegistryOracle {
	if reqCache == nil {
		reqCache = requirement.NewCache()
	}
	return &RegistryOracle{Client: client, Cache: reqCache}
}

// Versions implements resolver.Oracle.
func (o *RegistryOracle) Versions(ctx context.Context, name string) ([]resolver.OracleVersion, error) {
	records, err := o.Client.FetchVersions(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make([]resolver.OracleVersion, 0, len(records))
	for _, rec := range records {
		v, err := version.Parse(rec.Number)
		if err != nil {
			// A registry that advertises an unparsable version number for
			// one release shouldn't sink every other candidate; skip it.
			continue
		}

		deps := make([]vgem.Dependency, 0, len(rec.Dependencies.Runtime))
		for _, d := range rec.Dependencies.Runtime {
			req, err := o.Cache.Get(d.Name, d.Requirements)
			if err != nil {
				return nil, vgerr.New(vgerr.KindParse, "install.RegistryOracle.Versions",
					"parsing requirement for "+d.Name, err)
			}
			deps = append(deps, vgem.Dependency{Name: d.Name, Requirement: req})
		}

		var rubyReq *requirement.Requirement
		if rec.RubyVersion != "" {
			r, err := o.Cache.Get("ruby", rec.RubyVersion)
			if err == nil {
				rubyReq = &r
			}
		}

		out = append(out, resolver.OracleVersion{
			Version:     v,
			Platform:    vgem.ParsePlatform(rec.Platform),
			Prerelease:  v.IsPrerelease(),
			RuntimeDeps: deps,
			RubyVersion: rubyReq,
		})
	}
	return out, nil
}

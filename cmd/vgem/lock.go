package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/internal/checksum"
	"github.com/vgem/vgem/lockfile"
	"github.com/vgem/vgem/manifest"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Resolve the manifest and write a lockfile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.ParseFile(rootFlags.manifestPath)
		if err != nil {
			return err
		}
		for _, u := range m.Unsupported {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", u)
		}

		client, err := newRegistryClient(m)
		if err != nil {
			return err
		}

		entries, err := resolveManifest(cmd.Context(), m, client)
		if err != nil {
			return err
		}

		root := make([]vgem.Dependency, 0, len(m.Entries))
		for _, e := range m.EntriesInGroup(vgem.DefaultGroup) {
			root = append(root, vgem.Dependency{Name: e.Name, Requirement: e.Requirement})
		}

		lf := lockfile.FromResolved(root, entries, map[string]checksum.SHA256{}, []vgem.Platform{vgem.CurrentPlatform()})
		lf.Source = m.Source
		lf.RubyVersion = m.RubyVersion

		attachNonRegistrySources(lf, m)

		f, err := os.Create(rootFlags.lockfilePath)
		if err != nil {
			return err
		}
		defer f.Close()
		return lf.Format(f)
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
}

// attachNonRegistrySources folds a manifest's "git" and "path" entries
// into the lockfile's GIT/PATH sections. Resolving a git ref to the exact
// commit it points at requires talking to the remote, which this thin
// front end leaves to the install pipeline's own clone step rather than
// doing twice; the revision recorded here is whatever the Gemfile pinned
// (branch, tag, or ref), defaulting to "HEAD".
func attachNonRegistrySources(lf *lockfile.Lockfile, m *manifest.Manifest) {
	gitIndex := map[string]int{}
	for _, e := range m.Entries {
		switch e.Source {
		case vgem.SourceGit:
			repo := e.SourceArgs["git"]
			i, ok := gitIndex[repo]
			if !ok {
				rev := e.SourceArgs["ref"]
				if rev == "" {
					rev = e.SourceArgs["tag"]
				}
				if rev == "" {
					rev = e.SourceArgs["branch"]
				}
				if rev == "" {
					rev = "HEAD"
				}
				lf.Git = append(lf.Git, lockfile.GitSource{
					Repository: repo,
					Revision:   rev,
					Branch:     e.SourceArgs["branch"],
					Tag:        e.SourceArgs["tag"],
				})
				i = len(lf.Git) - 1
				gitIndex[repo] = i
			}
			lf.Git[i].Gems = append(lf.Git[i].Gems, lockfile.GemSpec{Name: e.Name, Platform: vgem.ParsePlatform("")})

		case vgem.SourcePath:
			path := e.SourceArgs["path"]
			lf.Path = append(lf.Path, lockfile.PathSource{
				Path: path,
				Gems: []lockfile.GemSpec{{Name: e.Name, Platform: vgem.ParsePlatform("")}},
			})
		}
	}
}

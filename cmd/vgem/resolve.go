package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/install"
	"github.com/vgem/vgem/manifest"
	"github.com/vgem/vgem/registryclient"
	"github.com/vgem/vgem/resolver"
)

var resolveFlags struct {
	prerelease bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the manifest's dependencies and print the result without writing a lockfile",
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

		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", e.Release().FullName())
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveFlags.prerelease, "pre", false, "allow prerelease versions")
	rootCmd.AddCommand(resolveCmd)
}

// resolveManifest runs the resolver over m's default-group dependencies
// (and its declared gemspecs, if any), shared by both the resolve and
// lock subcommands.
func resolveManifest(ctx context.Context, m *manifest.Manifest, client *registryclient.Client) ([]vgem.ResolvedEntry, error) {
	oracle := install.NewRegistryOracle(client, nil)

	root := make([]vgem.Dependency, 0, len(m.Entries))
	for _, e := range m.EntriesInGroup(vgem.DefaultGroup) {
		if e.Source != vgem.SourceRegistry {
			continue
		}
		root = append(root, vgem.Dependency{Name: e.Name, Requirement: e.Requirement})
	}

	opts := resolver.Options{
		Platforms:  []vgem.Platform{vgem.CurrentPlatform()},
		Prerelease: resolveFlags.prerelease,
	}
	return resolver.Resolve(ctx, root, oracle, opts)
}

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/vgem/vgem/download"
	"github.com/vgem/vgem/install"
	"github.com/vgem/vgem/lockfile"
	"github.com/vgem/vgem/metrics"
	"github.com/vgem/vgem/obslog"
	"github.com/vgem/vgem/signature"
	"github.com/vgem/vgem/store"
)

var installFlags struct {
	runtime     string
	concurrency int
	redownload  bool
	localOnly   bool
	preferLocal bool
	noCache     bool
	shebangEnv  bool
	cacheDir    string
	sources     []string
	metricsAddr string
	standalone  bool
	bundleDir   string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install every gem recorded in the lockfile into the vendor directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(rootFlags.lockfilePath)
		if err != nil {
			return err
		}
		lf, err := lockfile.Parse(f)
		f.Close()
		if err != nil {
			return err
		}

		policy, err := trustPolicy()
		if err != nil {
			return err
		}
		verifier, err := signature.NewVerifier(policy, rootFlags.trustDir)
		if err != nil {
			return err
		}

		sources := installFlags.sources
		if len(sources) == 0 {
			src := lf.Source
			if src == "" {
				src = rootFlags.source
			}
			sources = []string{src}
		}
		cache := installFlags.cacheDir
		if cache == "" {
			dir, err := cacheDir()
			if err != nil {
				return err
			}
			cache = dir
		}
		dl, err := download.New(cache, sources)
		if err != nil {
			return err
		}

		layout := store.New(rootFlags.vendorDir, lf.RubyVersion)

		shebang := store.ShebangFixed
		if installFlags.shebangEnv {
			shebang = store.ShebangEnv
		}

		p := install.New(lf, layout, dl, verifier, install.Options{
			Concurrency:   installFlags.concurrency,
			Redownload:    installFlags.redownload,
			LocalOnly:     installFlags.localOnly,
			PreferLocal:   installFlags.preferLocal,
			NoCache:       installFlags.noCache,
			RuntimeExe:    installFlags.runtime,
			ShebangMode:   shebang,
			Standalone:    installFlags.standalone,
			StandaloneDir: installFlags.bundleDir,
		})

		if installFlags.metricsAddr != "" {
			srv := &http.Server{Addr: installFlags.metricsAddr, Handler: metrics.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					obslog.Error(cmd.Context(), err).Msg("metrics listener stopped")
				}
			}()
			defer srv.Close()
		}

		var failed int
		printer := observerFunc(func(phase install.Phase, gem string, err error) {
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %v\n", phase, gem, err)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", phase, gem)
		})
		p.Observer = multiObserver{printer, metrics.Observer{}}

		if err := p.Run(cmd.Context()); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("install completed with %d failed unit(s)", failed)
		}
		return nil
	},
}

func init() {
	installCmd.Flags().StringVar(&installFlags.runtime, "runtime", "ruby", "runtime executable binstubs invoke")
	installCmd.Flags().IntVar(&installFlags.concurrency, "jobs", 4, "concurrent download/extract workers")
	installCmd.Flags().BoolVar(&installFlags.redownload, "redownload", false, "reinstall gems that already have a gem_dir")
	installCmd.Flags().BoolVar(&installFlags.localOnly, "local", false, "fail instead of reaching the network for anything not already cached")
	installCmd.Flags().BoolVar(&installFlags.preferLocal, "prefer-local", false, "prefer a cached copy over checking the source for a newer one")
	installCmd.Flags().BoolVar(&installFlags.noCache, "no-cache", false, "accepted for compatibility; downloaded archives are still kept in the cache")
	installCmd.Flags().BoolVar(&installFlags.shebangEnv, "shebang-env", false, "write binstubs with an /usr/bin/env shebang")
	installCmd.Flags().StringVar(&installFlags.cacheDir, "cache-dir", "", "download cache directory (default: OS cache dir)")
	installCmd.Flags().StringSliceVar(&installFlags.sources, "registry-source", nil, "registry source(s), overriding the lockfile's")
	installCmd.Flags().StringVar(&installFlags.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address for the duration of the install")
	installCmd.Flags().BoolVar(&installFlags.standalone, "standalone", false, "emit a self-contained loader bundle after installing (spec.md §4.K)")
	installCmd.Flags().StringVar(&installFlags.bundleDir, "bundle-dir", "", "destination root for --standalone's bundle/ tree (default: the vendor directory)")
	rootCmd.AddCommand(installCmd)
}

// observerFunc adapts a plain function to [install.Observer].
type observerFunc func(phase install.Phase, gem string, err error)

func (f observerFunc) OnUnit(phase install.Phase, gem string, err error) { f(phase, gem, err) }

// multiObserver fans a single notification out to every observer in turn.
type multiObserver []install.Observer

func (m multiObserver) OnUnit(phase install.Phase, gem string, err error) {
	for _, o := range m {
		o.OnUnit(phase, gem, err)
	}
}

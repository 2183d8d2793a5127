package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vgem/vgem/obslog"
	"github.com/vgem/vgem/signature"
)

var rootCmd = &cobra.Command{
	Use:   "vgem {[flags]|SUBCOMMAND...}",
	Short: "Resolve, lock, and install RubyGems-style dependency trees",

	SilenceErrors: true, // main() prints the error itself
	SilenceUsage:  true,
}

// flags shared by every subcommand that touches a project.
var rootFlags struct {
	manifestPath string
	lockfilePath string
	vendorDir    string
	backtrace    bool
	trustPolicy  string
	trustDir     string
	source       string
	otlpEndpoint string
}

// tracingShutdown flushes and stops the TracerProvider bootstrapped in
// cobra's OnInitialize hook, once flags have been parsed; main() calls it
// after Execute returns.
var tracingShutdown func(context.Context) error

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.manifestPath, "manifest", "Gemfile", "path to the project manifest")
	pf.StringVar(&rootFlags.lockfilePath, "lockfile", "Gemfile.lock", "path to the lockfile")
	pf.StringVar(&rootFlags.vendorDir, "path", "vendor/gems", "vendor directory gems are installed into")
	pf.BoolVar(&rootFlags.backtrace, "backtrace", false, "log full error cause chains")
	pf.StringVar(&rootFlags.trustPolicy, "trust-policy", "Low", "signature trust policy: None, Low, Medium, High")
	pf.StringVar(&rootFlags.trustDir, "trust-dir", "", "directory of trusted certificates")
	pf.StringVar(&rootFlags.source, "source", "", "registry base URL, overriding the manifest's")
	pf.StringVar(&rootFlags.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector endpoint for trace spans (unset disables tracing)")

	cobra.OnInitialize(func() {
		obslog.SetBacktrace(rootFlags.backtrace)

		shutdown, err := bootstrapTracing(context.Background(), rootFlags.otlpEndpoint)
		if err != nil {
			obslog.Error(context.Background(), err).Msg("tracing disabled: failed to bootstrap exporter")
			return
		}
		tracingShutdown = shutdown
	})
}

func trustPolicy() (signature.Policy, error) {
	return signature.ParsePolicy(rootFlags.trustPolicy)
}

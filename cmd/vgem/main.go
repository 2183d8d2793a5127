// Command vgem is a standalone RubyGems-compatible package manager: it
// resolves a manifest's dependencies, writes/reads the resulting
// lockfile, and drives the install pipeline against a vendor directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/quay/zlog"

	"github.com/vgem/vgem/obslog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
		With().Timestamp().Logger()
	zlog.Set(&log)

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		obslog.Error(ctx, err).Msg("fatal")
		fmt.Fprintf(rootCmd.ErrOrStderr(), "%s: error: %v\n", rootCmd.CommandPath(), err)
		os.Exit(1)
	}
	if tracingShutdown != nil {
		_ = tracingShutdown(ctx)
	}
}

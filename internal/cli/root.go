// Package cli implements thresholdctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayo6706/risk-thresholds/internal/app"
	"github.com/ayo6706/risk-thresholds/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "thresholdctl",
	Short:         "Operator tooling for the risk threshold service",
	Long:          "Inspects thresholds and pending changes, runs expiry sweeps, bootstraps the schema and mints API tokens.\nConfiguration is read from the same environment as the API server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if _, err := app.Setup(loaded); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openRuntime connects the configured backends. Commands that read stored
// state refuse the memory backend, which would always be empty.
func openRuntime(ctx context.Context) (*app.Runtime, error) {
	if cfg.StorageBackend != config.StoragePostgres {
		return nil, fmt.Errorf("this command needs STORAGE_BACKEND=postgres (got %q)", cfg.StorageBackend)
	}
	return app.NewRuntime(ctx, cfg)
}

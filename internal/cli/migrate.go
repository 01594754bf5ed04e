package cli

import (
	"fmt"

	"github.com/ayo6706/risk-thresholds/internal/db"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.Connect(cmd.Context(), cfg.DatabaseURL, db.WithMaxConns(cfg.DBMaxConns))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.EnsureSchema(cmd.Context(), pool); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	return nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepAt string

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepAt, "at", "", "Sweep as of this RFC 3339 time instead of now")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire PENDING threshold changes past their deadline",
	Long:  "Runs one expiry sweep. Already expired requests are skipped, so running it repeatedly is safe.",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	now := time.Now().UTC()
	if sweepAt != "" {
		parsed, err := time.Parse(time.RFC3339, sweepAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		now = parsed.UTC()
	}

	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Approvals.SweepExpired(cmd.Context(), now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d request(s) as of %s\n", n, now.Format(time.RFC3339))
	return nil
}

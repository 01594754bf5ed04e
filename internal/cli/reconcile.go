package cli

import (
	"fmt"

	"github.com/ayo6706/risk-thresholds/internal/service"
	"github.com/spf13/cobra"
)

var reconcileTenant string

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "Tenant to check (required)")
	_ = reconcileCmd.MarkFlagRequired("tenant")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check that every change request is backed by its audit events",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	gaps, err := service.NewReconciliationService(rt.Store).Run(cmd.Context(), reconcileTenant)
	if err != nil {
		return err
	}
	for _, gap := range gaps {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tmissing %s\n", gap.RequestID, gap.Status, gap.Missing)
	}
	if len(gaps) > 0 {
		return fmt.Errorf("%d audit gap(s) found", len(gaps))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "audit log is consistent")
	return nil
}

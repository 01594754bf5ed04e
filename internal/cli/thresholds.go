package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listTenant string

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	rootCmd.AddCommand(pendingCmd)
	for _, c := range []*cobra.Command{thresholdsCmd, pendingCmd} {
		c.Flags().StringVar(&listTenant, "tenant", "", "Tenant to inspect (required)")
		_ = c.MarkFlagRequired("tenant")
	}
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "List effective thresholds, including category defaults",
	Args:  cobra.NoArgs,
	RunE:  runThresholds,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List threshold changes awaiting a second approver",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

func runThresholds(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	configs, err := rt.Thresholds.ListThresholds(cmd.Context(), listTenant)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tASSET\tAMOUNT\tSOURCE\tSET BY\tEFFECTIVE FROM")
	for _, c := range configs {
		effective := "-"
		if !c.EffectiveFrom.IsZero() {
			effective = c.EffectiveFrom.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Category, c.CurrencyOrAsset, c.Amount, c.Source, c.SetBy, effective)
	}
	return tw.Flush()
}

func runPending(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	reqs, err := rt.Approvals.ListPending(cmd.Context(), listTenant)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tPAIR\tCURRENT\tPROPOSED\tMAGNITUDE\tREQUESTED BY\tEXPIRES")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s%%\t%s\t%s\n",
			r.RequestID, r.Category, r.CurrencyOrAsset, r.CurrentAmount, r.NewAmount,
			r.MagnitudePercent.StringFixed(2), r.RequestedBy, r.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

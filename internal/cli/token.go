package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/api/middleware"
	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/spf13/cobra"
)

var (
	tokenTenant       string
	tokenRoles        []string
	tokenCapabilities []string
	tokenTTL          time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant the token is scoped to (required)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Notification role, repeatable (SUPERVISOR, COMPLIANCE)")
	tokenCmd.Flags().StringSliceVar(&tokenCapabilities, "capability", nil, "Capability claim, repeatable (admin, dual_control_approver)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a signed API token",
	Long:  "Signs an HS256 token with JWT_SECRET, JWT_ISSUER and JWT_AUDIENCE. Capabilities only take effect when AUTHORITY_SOURCE=claims.",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	p := authority.Principal{ActorID: args[0], TenantID: tokenTenant}
	for _, raw := range tokenRoles {
		role := domain.Role(strings.ToUpper(strings.TrimSpace(raw)))
		if role != domain.RoleSupervisor && role != domain.RoleCompliance {
			return fmt.Errorf("unknown role %q", raw)
		}
		p.Roles = append(p.Roles, role)
	}
	for _, raw := range tokenCapabilities {
		c := domain.Capability(strings.TrimSpace(raw))
		if c != domain.CapabilityAdministrative && c != domain.CapabilityDualControlApprover {
			return fmt.Errorf("unknown capability %q", raw)
		}
		p.Capabilities = append(p.Capabilities, c)
	}

	token, err := middleware.SignToken(p, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

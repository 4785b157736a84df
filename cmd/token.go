package cmd

import (
	"errors"
	"fmt"

	"github.com/psds-microservice/onboarding-service/internal/auth"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenName   string
	tokenRoles  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token for local testing",
	Example: `  onboarding-service token --user-id 7 --name "Ops Lead" --role Approver
  curl -H "Authorization: Bearer $(onboarding-service token --user-id 3 --role Requester)" localhost:8098/api/v1/tickets`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 0, "user id (required, > 0)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{string(model.RoleRequester)}, "role: Requester or Approver (repeatable)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadEnv()
	if err != nil {
		return err
	}
	if tokenUserID <= 0 {
		return errors.New("token: --user-id must be positive")
	}
	id := model.Identity{UserID: tokenUserID, DisplayName: tokenName}
	for _, r := range tokenRoles {
		role := model.Role(r)
		if role != model.RoleRequester && role != model.RoleApprover {
			return fmt.Errorf("token: unknown role %q", r)
		}
		id.Roles = append(id.Roles, role)
	}
	token, err := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL).Issue(id)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

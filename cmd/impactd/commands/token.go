package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"impact-escrow/escrow-engine/internal/auth"
)

var tokenRole string

var TokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API token for an operator or a validator address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenRole != auth.RoleOperator && tokenRole != auth.RoleValidator {
			return fmt.Errorf("role must be %q or %q", auth.RoleOperator, auth.RoleValidator)
		}
		tokens, err := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.TokenIssuer, cfg.Security.TokenTTL.Duration)
		if err != nil {
			return err
		}
		token, err := tokens.IssueToken(args[0], tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	TokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleValidator, "Token role: operator or validator")
}

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/service/auth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user id",
	Long: `Signs an access token with the configured secret. Production tokens come
from the account service; this command is for local testing.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("user")
		userID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --user %q: %w", raw, err)
		}

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		svc, err := auth.NewJWTService(cfg.Auth)
		if err != nil {
			return err
		}
		token, err := svc.GenerateToken(cmd.Context(), userID)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (UUID) to put in the token")
	_ = tokenCmd.MarkFlagRequired("user")
}

package main

import (
	"fmt"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/services"
	"meshcall/pkg/config"

	"github.com/spf13/cobra"
)

var (
	flagTokenUser string
	flagTokenName string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development access token signed with auth.jwt_secret",
	Long: `Mint an access token for local testing. Production tokens come from the
account service; this only works when you know the relay's jwt secret.

Example:
  meshcall-client token --user-id 42 --username ann`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTokenUser == "" {
			return fmt.Errorf("--user-id is required")
		}
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		token, err := auth.GenerateToken(domain.UserID(flagTokenUser), flagTokenName)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenUser, "user-id", "", "user id placed in the token")
	tokenCmd.Flags().StringVar(&flagTokenName, "username", "", "username placed in the token")
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/famevents/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user",
	Long: `Issue a signed bearer token for the given user id, for local testing
and service-to-service calls. The token expires after tokenTTL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		tok, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL, cfg.JWTIssuer).Issue(args[0])
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

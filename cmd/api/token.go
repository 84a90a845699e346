package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docconv/service/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a Bearer token signed with the configured API key",
	Long: `token prints a JWT that authenticates against the conversion routes in
place of the apikey query parameter. It is signed with the contents of
APIKEY_FILE, so rotating the key revokes every token issued with it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		key, err := auth.Load(cfg.APIKeyFile)
		if err != nil {
			return err
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		subject, _ := cmd.Flags().GetString("subject")
		token, err := key.IssueToken(subject, ttl)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().String("subject", "docconv-client", "token subject, shown in logs")
	rootCmd.AddCommand(tokenCmd)
}

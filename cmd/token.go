package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/microgrid/api"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with api.auth.jwt_secret",
	RunE:  issueToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", api.RoleViewer, "viewer or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func issueToken(cmd *cobra.Command, args []string) error {
	if tokenRole != api.RoleViewer && tokenRole != api.RoleOperator {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tok, err := api.IssueToken(cfg.API.Auth, tokenSubject, tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}

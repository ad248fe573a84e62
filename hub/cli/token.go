package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amurg-ai/webshell/hub/auth"
	"github.com/amurg-ai/webshell/hub/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [config-file]",
		Short: "Issue an access token signed with the configured jwt secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load(resolveConfigPath(cmd, args, defaultConfigPath))
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			if cfg.Auth.Mode != config.AuthJWT {
				return fmt.Errorf("auth.mode is %q, tokens can only be issued in jwt mode", cfg.Auth.Mode)
			}

			token, err := auth.NewHMACProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foldervault/foldervault/internal/auth"
)

var tokenTTL time.Duration

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token",
		Long: `Print a bearer token for the API. The user id becomes the owner of everything
created with the token.

Examples:
  foldervault token alice --ttl 720h`,
		Args: cobra.ExactArgs(1),
		RunE: runToken,
	}
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	secret, err := cfg.ResolveSecret()
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(secret, auth.AudienceAPI)
	if err != nil {
		return err
	}
	token, err := signer.Sign(args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

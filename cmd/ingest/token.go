package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/internal/auth"
)

// tokenCmd mints a bearer token from the shared secret, for development and scripting.
func tokenCmd() *cobra.Command {
	var (
		user string
		name string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		RunE: func(_ *cobra.Command, _ []string) error {
			tokens, err := auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(user, name)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (token subject, required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

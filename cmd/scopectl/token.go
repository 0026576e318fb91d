package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"codescope/backend/internal/config"
	"codescope/backend/internal/security"
)

type issuedToken struct {
	Token     string     `json:"token"`
	Subject   string     `json:"subject"`
	OrgID     string     `json:"org_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Ingest bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var subject, org string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an ingest token with INGEST_JWT_PRIVATE_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IngestJWTPrivateKey == "" {
				return errors.New("INGEST_JWT_PRIVATE_KEY is not set")
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.IngestJWTTTL
			}
			issuer, err := security.LoadIssuer(cfg.IngestJWTPrivateKey, cfg.IngestJWTIssuer, cfg.IngestJWTAudience, ttl)
			if err != nil {
				return err
			}
			token, exp, err := issuer.Issue(subject, org)
			if err != nil {
				return err
			}
			out := issuedToken{Token: token, Subject: subject, OrgID: org}
			if !exp.IsZero() {
				out.ExpiresAt = &exp
			}
			return render(cmd.OutOrStdout(), out, token)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the collector or host name")
	cmd.Flags().StringVar(&org, "org", "", "organization id stamped on ingested records")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; 0 issues a token without expiry (default INGEST_JWT_TTL)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codescope/backend/internal/config"
	"codescope/backend/internal/db/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := migrate.Run(cfg.DatabaseURL, args[0]); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			return render(cmd.OutOrStdout(), map[string]string{"direction": args[0]}, "migrations applied: "+args[0])
		},
	}
}

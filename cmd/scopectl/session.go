package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session maintenance",
	}
	cmd.AddCommand(newSessionRebuildCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	cmd.AddCommand(newSessionCloseIdleCmd())
	return cmd
}

func newSessionRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <session-id>",
		Short: "Recompute a session summary from its raw events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			sum, err := store.RebuildSummary(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", args[0], err)
			}
			return render(cmd.OutOrStdout(), sum, fmt.Sprintf("rebuilt %s: cost $%.4f, %d input / %d output tokens, %d commits",
				sum.SessionID, sum.TotalCostUSD, sum.TotalInputTokens, sum.TotalOutputTokens, sum.CommitCount))
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its raw events and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			return render(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, "deleted "+args[0])
		},
	}
}

func newSessionCloseIdleCmd() *cobra.Command {
	var idle time.Duration
	cmd := &cobra.Command{
		Use:   "close-idle",
		Short: "End active sessions with no activity for --idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if idle <= 0 {
				return fmt.Errorf("--idle must be positive")
			}
			store, conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := store.CloseIdleSessions(cmd.Context(), time.Now().Add(-idle))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]int64{"closed": n}, fmt.Sprintf("closed %d idle sessions", n))
		},
	}
	cmd.Flags().DurationVar(&idle, "idle", 30*time.Minute, "inactivity after which a session is ended")
	return cmd
}

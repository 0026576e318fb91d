// scopectl is the operator CLI: schema migrations, session maintenance, ingest tokens and sample data.
// It reads the same environment as the server; see internal/config.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codescope/backend/internal/config"
	"codescope/backend/internal/db"
	"codescope/backend/internal/logging"
	"codescope/backend/internal/usage/repository"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	output   string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scopectl",
		Short:         "codescope operator tool",
		Long:          "scopectl manages the codescope usage store: migrations, sessions, ingest tokens and sample data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text|json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for store diagnostics")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scopectl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "scopectl %s\n", version)
			return nil
		},
	}
}

// openStore loads config and opens the usage store. The caller closes the returned connection.
func openStore() (*repository.Store, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := repository.New(conn, repository.Options{
		MaxRetries: cfg.StorageMaxRetries,
		Logger:     logging.NewLogger(logLevel),
	})
	return store, conn, nil
}

// render writes v as indented JSON with --output json, otherwise the text line.
func render(w io.Writer, v any, text string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

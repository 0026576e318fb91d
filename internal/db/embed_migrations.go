package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations, one directory per dialect.
// Used by the migrate runner (cmd/server on startup and scopectl migrate).
//
//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var MigrationFS embed.FS

// MigrationDir returns the directory inside MigrationFS holding the migrations for d.
func MigrationDir(d Dialect) string {
	return "migrations/" + string(d)
}

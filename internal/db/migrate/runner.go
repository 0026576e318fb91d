// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"codescope/backend/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run opens the database named by dsn and applies migrations in the given direction.
// direction must be "up" or "down". Returns nil on success; ErrNoChange is swallowed.
func Run(dsn string, direction string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if err := checkDirection(direction); err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer conn.Close()
	return RunWithDB(conn, direction)
}

// RunWithDB applies the migrations for conn's dialect over an already opened database.
// The connection stays open afterwards.
func RunWithDB(conn *db.DB, direction string) error {
	if conn == nil || conn.DB == nil {
		return errors.New("migrate: nil database")
	}
	if err := checkDirection(direction); err != nil {
		return err
	}

	sourceDriver, err := iofs.New(db.MigrationFS, db.MigrationDir(conn.Dialect))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	var driver database.Driver
	switch conn.Dialect {
	case db.Postgres:
		driver, err = postgres.WithInstance(conn.DB, &postgres.Config{})
	case db.SQLite:
		driver, err = sqlite.WithInstance(conn.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", conn.Dialect)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// m.Close would close conn through the driver; the caller owns conn.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(conn.Dialect), driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func checkDirection(direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	return nil
}

// Package db opens the usage database. Postgres (pgx) and SQLite (modernc) are supported; the
// dialect is chosen from the DATABASE_URL scheme.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of an opened database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// sqliteBusyTimeoutMS is how long a SQLite writer waits on a locked database before SQLITE_BUSY.
const sqliteBusyTimeoutMS = 5000

// ErrEmptyDSN is returned when no database URL is configured.
var ErrEmptyDSN = errors.New("DATABASE_URL is not set")

// DB is an opened database together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ParseDSN returns the dialect and the driver-level DSN for a DATABASE_URL.
// postgres:// and postgresql:// select Postgres; sqlite:// (or sqlite:<path>) selects SQLite, with
// WAL, foreign keys, a busy timeout and immediate write transactions enabled.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", ErrEmptyDSN
	}
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, sqliteDSN(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return SQLite, sqliteDSN(strings.TrimPrefix(dsn, "sqlite:")), nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q (want postgres:// or sqlite://)", dsn)
	}
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "codescope.db"
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(sqliteBusyTimeoutMS)+")")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens and pings the database named by dsn. Caller must call Close when done.
func Open(dsn string) (*DB, error) {
	dialect, driverDSN, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite"
	}
	conn, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// One writer at a time is enforced by SQLite itself; keep the pool small so readers
		// do not starve the writer of connections.
		conn.SetMaxOpenConns(8)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{DB: conn, Dialect: dialect}, nil
}

// Rebind rewrites ? placeholders to $n for Postgres. Queries must not contain literal '?'.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

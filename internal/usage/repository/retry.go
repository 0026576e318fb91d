package repository

import (
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 10 * time.Millisecond
	defaultMaxDelay   = 250 * time.Millisecond
)

// isConflict reports whether err is a serialization failure worth retrying:
// Postgres serialization_failure / deadlock_detected, SQLite BUSY / LOCKED.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// newConflictRetryPolicy retries only on conflicts, with jittered exponential backoff.
func newConflictRetryPolicy(maxRetries int, base, max time.Duration, log logging.Logger, m *metrics.Collector) retrypolicy.RetryPolicy[any] {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max < base {
		max = base
	}
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return isConflict(err) }).
		WithBackoff(base, max).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			m.StorageRetry()
			log.WithField("attempt", e.Attempts()).WithError(e.LastError()).Debug("storage: retrying after conflict")
		}).
		Build()
}

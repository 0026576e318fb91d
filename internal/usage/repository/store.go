package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"codescope/backend/internal/db"
	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
	"codescope/backend/internal/usage/domain"
)

// Options tunes a Store. The zero value is usable.
type Options struct {
	// MaxRetries bounds conflict retries per write (default 5).
	MaxRetries int
	// BaseDelay and MaxDelay bound the retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    logging.Logger
	Metrics   *metrics.Collector
	// Now supplies the time for events without a timestamp; defaults to time.Now.
	Now func() time.Time
}

// Store implements Repository over database/sql for Postgres and SQLite.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	locks   *keyLocks
	retry   retrypolicy.RetryPolicy[any]
	log     logging.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ Repository = (*Store)(nil)

// New returns a Store over an opened database.
func New(conn *db.DB, opts Options) *Store {
	return NewWithDB(conn.DB, conn.Dialect, opts)
}

// NewWithDB returns a Store over a raw *sql.DB using the given dialect.
func NewWithDB(sqlDB *sql.DB, dialect db.Dialect, opts Options) *Store {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = defaultMaxDelay
	}
	log := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:      sqlDB,
		dialect: dialect,
		locks:   newKeyLocks(),
		retry:   newConflictRetryPolicy(maxRetries, opts.BaseDelay, maxDelay, log, opts.Metrics),
		log:     log,
		metrics: opts.Metrics,
		now:     now,
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(query string) string {
	return db.Rebind(s.dialect, query)
}

// inSessionTx runs fn in one transaction while holding sessionID's lock. The whole transaction is
// re-run on serialization conflicts; exhaustion is reported as ErrConflict.
func (s *Store) inSessionTx(ctx context.Context, sessionID, kind string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	err := failsafe.With(s.retry).WithContext(ctx).Run(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil && isConflict(err) {
		err = fmt.Errorf("%w: %s session %q: %v", ErrConflict, kind, sessionID, err)
	}
	s.metrics.StorageWrite(kind, time.Since(start), err)
	return err
}

func (s *Store) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullable maps the empty session id to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const upsertSessionSQL = `INSERT INTO sessions (id, user_id, user_email, organization_id, started_at_ms, last_seen_at_ms, command_count)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	user_id = CASE WHEN sessions.user_id = '' THEN excluded.user_id ELSE sessions.user_id END,
	user_email = CASE WHEN sessions.user_email = '' THEN excluded.user_email ELSE sessions.user_email END,
	organization_id = CASE WHEN sessions.organization_id = '' THEN excluded.organization_id ELSE sessions.organization_id END,
	started_at_ms = CASE WHEN excluded.started_at_ms < sessions.started_at_ms THEN excluded.started_at_ms ELSE sessions.started_at_ms END,
	last_seen_at_ms = CASE WHEN excluded.last_seen_at_ms > sessions.last_seen_at_ms THEN excluded.last_seen_at_ms ELSE sessions.last_seen_at_ms END,
	command_count = sessions.command_count + excluded.command_count`

const endSessionSQL = `UPDATE sessions
SET ended_at_ms = CASE WHEN ? < started_at_ms THEN started_at_ms ELSE ? END
WHERE id = ? AND ended_at_ms IS NULL`

// touchSession creates the session row if missing, widens its activity window and adds commands.
// Identity fields are filled once and never overwritten.
func (s *Store) touchSession(ctx context.Context, tx querier, sessionID string, id domain.Identity, at time.Time, commands int64) error {
	if sessionID == "" {
		return nil
	}
	ms := toMillis(at)
	_, err := tx.ExecContext(ctx, s.q(upsertSessionSQL), sessionID, id.UserID, id.UserEmail, id.OrganizationID, ms, ms, commands)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// summaryColumns lists the session_summaries counters in Totals field order.
var summaryColumns = []string{
	"total_input_tokens",
	"total_output_tokens",
	"total_cache_creation_tokens",
	"total_cache_read_tokens",
	"total_cost_usd",
	"commit_count",
	"pull_request_count",
	"lines_added",
	"lines_removed",
	"files_changed",
	"tool_invocations",
	"tool_errors",
	"error_count",
	"metric_point_count",
	"cost_record_count",
	"productivity_event_count",
	"tool_usage_count",
}

func totalsArgs(t domain.Totals) []any {
	return []any{
		t.TotalInputTokens,
		t.TotalOutputTokens,
		t.TotalCacheCreationTokens,
		t.TotalCacheReadTokens,
		t.TotalCostUSD,
		t.CommitCount,
		t.PullRequestCount,
		t.LinesAdded,
		t.LinesRemoved,
		t.FilesChanged,
		t.ToolInvocations,
		t.ToolErrors,
		t.ErrorCount,
		t.MetricPointCount,
		t.CostRecordCount,
		t.ProductivityEventCount,
		t.ToolUsageCount,
	}
}

func totalsDest(t *domain.Totals) []any {
	return []any{
		&t.TotalInputTokens,
		&t.TotalOutputTokens,
		&t.TotalCacheCreationTokens,
		&t.TotalCacheReadTokens,
		&t.TotalCostUSD,
		&t.CommitCount,
		&t.PullRequestCount,
		&t.LinesAdded,
		&t.LinesRemoved,
		&t.FilesChanged,
		&t.ToolInvocations,
		&t.ToolErrors,
		&t.ErrorCount,
		&t.MetricPointCount,
		&t.CostRecordCount,
		&t.ProductivityEventCount,
		&t.ToolUsageCount,
	}
}

var (
	// addSummarySQL adds a delta to the summary row, creating it first if needed.
	addSummarySQL = buildSummaryUpsert(func(col string) string {
		return col + " = session_summaries." + col + " + excluded." + col
	})
	// replaceSummarySQL overwrites the summary row with replayed totals.
	replaceSummarySQL = buildSummaryUpsert(func(col string) string {
		return col + " = excluded." + col
	})
)

func buildSummaryUpsert(set func(col string) string) string {
	cols := append([]string{"session_id"}, summaryColumns...)
	cols = append(cols, "updated_at_ms")
	sets := make([]string, 0, len(summaryColumns)+1)
	for _, c := range summaryColumns {
		sets = append(sets, set(c))
	}
	sets = append(sets, "updated_at_ms = excluded.updated_at_ms")
	return "INSERT INTO session_summaries (" + strings.Join(cols, ", ") + ")\nVALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")\nON CONFLICT (session_id) DO UPDATE SET\n\t" +
		strings.Join(sets, ",\n\t")
}

// applyDelta is the single aggregation step: it adds d to the session's summary row.
func (s *Store) applyDelta(ctx context.Context, tx querier, sessionID string, d domain.Delta) error {
	if sessionID == "" {
		return nil
	}
	args := append([]any{sessionID}, totalsArgs(d)...)
	args = append(args, toMillis(s.now()))
	if _, err := tx.ExecContext(ctx, s.q(addSummarySQL), args...); err != nil {
		return fmt.Errorf("apply summary delta: %w", err)
	}
	return nil
}

func (s *Store) insertReturningID(ctx context.Context, tx querier, query string, args ...any) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RecordSession touches the session (creating it and its summary if needed), adds ev.Commands
// to the command count and ends the session when ev.End is set.
func (s *Store) RecordSession(ctx context.Context, ev domain.SessionEvent) error {
	if ev.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidEvent)
	}
	if ev.Commands < 0 {
		return fmt.Errorf("%w: negative command count", ErrInvalidEvent)
	}
	at := s.timestamp(ev.Timestamp)
	return s.inSessionTx(ctx, ev.SessionID, "session", func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, ev.SessionID, ev.Identity, at, ev.Commands); err != nil {
			return err
		}
		if ev.End {
			ms := toMillis(at)
			if _, err := tx.ExecContext(ctx, s.q(endSessionSQL), ms, ms, ev.SessionID); err != nil {
				return fmt.Errorf("end session: %w", err)
			}
		}
		return s.applyDelta(ctx, tx, ev.SessionID, domain.Delta{})
	})
}

// EndSession sets the session's end time once. Later calls leave the first end time in place.
func (s *Store) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.RecordSession(ctx, domain.SessionEvent{SessionID: sessionID, Timestamp: at, End: true})
}

const insertMetricPointSQL = `INSERT INTO metric_points
(session_id, name, category, value, timestamp_ms, labels, user_id, user_email, organization_id, host, service, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordMetricPoint stores a generic metric point.
func (s *Store) RecordMetricPoint(ctx context.Context, p *domain.MetricPoint) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: metric point requires a name", ErrInvalidEvent)
	}
	p.Timestamp = s.timestamp(p.Timestamp)
	labels, err := domain.EncodeLabels(p.Labels)
	if err != nil {
		return fmt.Errorf("%w: labels: %v", ErrInvalidEvent, err)
	}
	return s.inSessionTx(ctx, p.SessionID, "metric_point", func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, p.SessionID, p.Identity, p.Timestamp, 0); err != nil {
			return err
		}
		id, err := s.insertReturningID(ctx, tx, insertMetricPointSQL,
			nullable(p.SessionID), p.Name, p.Category, p.Value, toMillis(p.Timestamp), labels,
			p.UserID, p.UserEmail, p.OrganizationID, p.Host, p.Service, p.Version)
		if err != nil {
			return fmt.Errorf("insert metric point: %w", err)
		}
		p.ID = id
		return s.applyDelta(ctx, tx, p.SessionID, domain.DeltaForMetricPoint(p))
	})
}

const insertCostSQL = `INSERT INTO cost_records
(session_id, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost_usd, timestamp_ms,
 user_id, user_email, organization_id, host, service, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordCost stores a cost record.
func (s *Store) RecordCost(ctx context.Context, c *domain.CostRecord) error {
	if c == nil {
		return fmt.Errorf("%w: nil cost record", ErrInvalidEvent)
	}
	c.Timestamp = s.timestamp(c.Timestamp)
	return s.inSessionTx(ctx, c.SessionID, "cost", func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, c.SessionID, c.Identity, c.Timestamp, 0); err != nil {
			return err
		}
		id, err := s.insertReturningID(ctx, tx, insertCostSQL,
			nullable(c.SessionID), c.Model, c.InputTokens, c.OutputTokens, c.CacheCreationTokens, c.CacheReadTokens,
			c.CostUSD, toMillis(c.Timestamp), c.UserID, c.UserEmail, c.OrganizationID, c.Host, c.Service, c.Version)
		if err != nil {
			return fmt.Errorf("insert cost record: %w", err)
		}
		c.ID = id
		return s.applyDelta(ctx, tx, c.SessionID, domain.DeltaForCost(c))
	})
}

const insertProductivitySQL = `INSERT INTO productivity_events
(session_id, kind, count, repository, files_changed, lines_added, lines_removed, commit_hash, branch, pr_number, timestamp_ms,
 user_id, user_email, organization_id, host, service, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordProductivityEvent stores a commit, pull request or file edit.
func (s *Store) RecordProductivityEvent(ctx context.Context, e *domain.ProductivityEvent) error {
	if e == nil || !e.Kind.Valid() {
		return fmt.Errorf("%w: productivity event requires a known kind", ErrInvalidEvent)
	}
	e.Timestamp = s.timestamp(e.Timestamp)
	e.Count = e.EffectiveCount()
	return s.inSessionTx(ctx, e.SessionID, "productivity", func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, e.SessionID, e.Identity, e.Timestamp, 0); err != nil {
			return err
		}
		id, err := s.insertReturningID(ctx, tx, insertProductivitySQL,
			nullable(e.SessionID), string(e.Kind), e.Count, e.Repository, e.FilesChanged, e.LinesAdded, e.LinesRemoved,
			e.CommitHash, e.Branch, e.PRNumber, toMillis(e.Timestamp),
			e.UserID, e.UserEmail, e.OrganizationID, e.Host, e.Service, e.Version)
		if err != nil {
			return fmt.Errorf("insert productivity event: %w", err)
		}
		e.ID = id
		return s.applyDelta(ctx, tx, e.SessionID, domain.DeltaForProductivity(e))
	})
}

const insertToolUsageSQL = `INSERT INTO tool_usage_records
(session_id, tool_name, invocations, duration_ms, success_count, error_count, timestamp_ms,
 user_id, user_email, organization_id, host, service, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordToolUsage stores a tool usage record.
func (s *Store) RecordToolUsage(ctx context.Context, r *domain.ToolUsageRecord) error {
	if r == nil || r.ToolName == "" {
		return fmt.Errorf("%w: tool usage requires a tool name", ErrInvalidEvent)
	}
	r.Timestamp = s.timestamp(r.Timestamp)
	return s.inSessionTx(ctx, r.SessionID, "tool_usage", func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, r.SessionID, r.Identity, r.Timestamp, 0); err != nil {
			return err
		}
		id, err := s.insertReturningID(ctx, tx, insertToolUsageSQL,
			nullable(r.SessionID), r.ToolName, r.Invocations, r.DurationMS, r.SuccessCount, r.ErrorCount, toMillis(r.Timestamp),
			r.UserID, r.UserEmail, r.OrganizationID, r.Host, r.Service, r.Version)
		if err != nil {
			return fmt.Errorf("insert tool usage: %w", err)
		}
		r.ID = id
		return s.applyDelta(ctx, tx, r.SessionID, domain.DeltaForToolUsage(r))
	})
}

// DeleteSession deletes the session; raw events and the summary go with it through ON DELETE CASCADE.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	var affected int64
	err := s.inSessionTx(ctx, sessionID, "delete_session", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), sessionID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseIdleSessions ends active sessions whose last activity is older than cutoff, using the last
// activity time as the end time.
func (s *Store) CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := failsafe.With(s.retry).WithContext(ctx).Run(func() error {
		res, err := s.db.ExecContext(ctx,
			s.q(`UPDATE sessions SET ended_at_ms = last_seen_at_ms WHERE ended_at_ms IS NULL AND last_seen_at_ms < ?`),
			toMillis(cutoff))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("close idle sessions: %w", err)
	}
	s.metrics.SessionsReaped(affected)
	return affected, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

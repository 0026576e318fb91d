package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"codescope/backend/internal/usage/domain"
)

const sessionColumns = `id, user_id, user_email, organization_id, started_at_ms, ended_at_ms, last_seen_at_ms, command_count`

const identityColumns = `user_id, user_email, organization_id, host, service, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*domain.Session, error) {
	var (
		sess            domain.Session
		startMS, seenMS int64
		endMS           sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &sess.UserID, &sess.UserEmail, &sess.OrganizationID, &startMS, &endMS, &seenMS, &sess.CommandCount); err != nil {
		return nil, err
	}
	sess.StartedAt = fromMillis(startMS)
	sess.LastSeenAt = fromMillis(seenMS)
	if endMS.Valid {
		t := fromMillis(endMS.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func identityDest(id *domain.Identity) []any {
	return []any{&id.UserID, &id.UserEmail, &id.OrganizationID, &id.Host, &id.Service, &id.Version}
}

// where builds a WHERE clause for f. tsCol is the time column; nameCol, when set, enables f.Name.
func where(f domain.Filter, tsCol, nameCol string) (string, []any) {
	var conds []string
	var args []any
	if !f.Start.IsZero() {
		conds = append(conds, tsCol+" >= ?")
		args = append(args, toMillis(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, tsCol+" < ?")
		args = append(args, toMillis(f.End))
	}
	if f.UserEmail != "" {
		conds = append(conds, "user_email = ?")
		args = append(args, f.UserEmail)
	}
	if f.OrganizationID != "" {
		conds = append(conds, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.SessionID != "" {
		col := "session_id"
		if tsCol == "started_at_ms" {
			col = "id"
		}
		conds = append(conds, col+" = ?")
		args = append(args, f.SessionID)
	}
	if nameCol != "" && f.Name != "" {
		conds = append(conds, nameCol+" = ?")
		args = append(args, f.Name)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limit(f domain.Filter) string {
	if f.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return ""
}

// GetSession returns the session by id. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns one page of sessions, newest first, and the total count matching the filters.
func (s *Store) ListSessions(ctx context.Context, p domain.ListSessionsParams) ([]*domain.Session, int, error) {
	var conds []string
	var args []any
	if p.UserEmail != "" {
		conds = append(conds, "user_email = ?")
		args = append(args, p.UserEmail)
	}
	switch p.Status {
	case "active":
		conds = append(conds, "ended_at_ms IS NULL")
	case "completed":
		conds = append(conds, "ended_at_ms IS NOT NULL")
	}
	clause := ""
	if len(conds) > 0 {
		clause = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sessions`+clause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	lim := p.Limit
	if lim <= 0 {
		lim = 50
	}
	off := p.Offset
	if off < 0 {
		off = 0
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions` + clause +
		fmt.Sprintf(` ORDER BY started_at_ms DESC, id LIMIT %d OFFSET %d`, lim, off)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, total, rows.Err()
}

// Sessions returns sessions that started inside the filter range.
func (s *Store) Sessions(ctx context.Context, f domain.Filter) ([]*domain.Session, error) {
	clause, args := where(f, "started_at_ms", "")
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+sessionColumns+` FROM sessions`+clause+` ORDER BY started_at_ms, id`+limit(f)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MetricPoints returns metric points in the filter range ordered by time.
func (s *Store) MetricPoints(ctx context.Context, f domain.Filter) ([]*domain.MetricPoint, error) {
	order := "timestamp_ms, id"
	if f.Descending {
		order = "timestamp_ms DESC, id DESC"
	}
	return s.metricPoints(ctx, s.db, f, order)
}

func (s *Store) metricPoints(ctx context.Context, qr querier, f domain.Filter, order string) ([]*domain.MetricPoint, error) {
	clause, args := where(f, "timestamp_ms", "name")
	query := `SELECT id, COALESCE(session_id, ''), name, category, value, timestamp_ms, labels, ` + identityColumns +
		` FROM metric_points` + clause + ` ORDER BY ` + order + limit(f)
	rows, err := qr.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.MetricPoint
	for rows.Next() {
		var (
			p      domain.MetricPoint
			tsMS   int64
			labels string
		)
		dest := append([]any{&p.ID, &p.SessionID, &p.Name, &p.Category, &p.Value, &tsMS, &labels}, identityDest(&p.Identity)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p.Timestamp = fromMillis(tsMS)
		if p.Labels, err = domain.DecodeLabels(labels); err != nil {
			s.log.WithError(err).WithField("metric_point_id", p.ID).Warn("storage: undecodable labels")
			p.Labels = domain.Labels{}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CostRecords returns cost records in the filter range ordered by time.
func (s *Store) CostRecords(ctx context.Context, f domain.Filter) ([]*domain.CostRecord, error) {
	return s.costRecords(ctx, s.db, f, "timestamp_ms, id")
}

func (s *Store) costRecords(ctx context.Context, qr querier, f domain.Filter, order string) ([]*domain.CostRecord, error) {
	clause, args := where(f, "timestamp_ms", "")
	query := `SELECT id, COALESCE(session_id, ''), model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost_usd, timestamp_ms, ` +
		identityColumns + ` FROM cost_records` + clause + ` ORDER BY ` + order + limit(f)
	rows, err := qr.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.CostRecord
	for rows.Next() {
		var (
			c    domain.CostRecord
			tsMS int64
		)
		dest := append([]any{&c.ID, &c.SessionID, &c.Model, &c.InputTokens, &c.OutputTokens, &c.CacheCreationTokens,
			&c.CacheReadTokens, &c.CostUSD, &tsMS}, identityDest(&c.Identity)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		c.Timestamp = fromMillis(tsMS)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ProductivityEvents returns productivity events in the filter range ordered by time.
func (s *Store) ProductivityEvents(ctx context.Context, f domain.Filter) ([]*domain.ProductivityEvent, error) {
	return s.productivityEvents(ctx, s.db, f, "timestamp_ms, id")
}

func (s *Store) productivityEvents(ctx context.Context, qr querier, f domain.Filter, order string) ([]*domain.ProductivityEvent, error) {
	clause, args := where(f, "timestamp_ms", "")
	query := `SELECT id, COALESCE(session_id, ''), kind, count, repository, files_changed, lines_added, lines_removed, commit_hash, branch, pr_number, timestamp_ms, ` +
		identityColumns + ` FROM productivity_events` + clause + ` ORDER BY ` + order + limit(f)
	rows, err := qr.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ProductivityEvent
	for rows.Next() {
		var (
			e    domain.ProductivityEvent
			kind string
			tsMS int64
		)
		dest := append([]any{&e.ID, &e.SessionID, &kind, &e.Count, &e.Repository, &e.FilesChanged, &e.LinesAdded, &e.LinesRemoved,
			&e.CommitHash, &e.Branch, &e.PRNumber, &tsMS}, identityDest(&e.Identity)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		e.Kind = domain.ProductivityKind(kind)
		e.Timestamp = fromMillis(tsMS)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ToolUsage returns tool usage records in the filter range ordered by time.
func (s *Store) ToolUsage(ctx context.Context, f domain.Filter) ([]*domain.ToolUsageRecord, error) {
	return s.toolUsage(ctx, s.db, f, "timestamp_ms, id")
}

func (s *Store) toolUsage(ctx context.Context, qr querier, f domain.Filter, order string) ([]*domain.ToolUsageRecord, error) {
	clause, args := where(f, "timestamp_ms", "")
	query := `SELECT id, COALESCE(session_id, ''), tool_name, invocations, duration_ms, success_count, error_count, timestamp_ms, ` +
		identityColumns + ` FROM tool_usage_records` + clause + ` ORDER BY ` + order + limit(f)
	rows, err := qr.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ToolUsageRecord
	for rows.Next() {
		var (
			r    domain.ToolUsageRecord
			tsMS int64
		)
		dest := append([]any{&r.ID, &r.SessionID, &r.ToolName, &r.Invocations, &r.DurationMS, &r.SuccessCount, &r.ErrorCount, &tsMS},
			identityDest(&r.Identity)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Timestamp = fromMillis(tsMS)
		out = append(out, &r)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"codescope/backend/internal/usage/domain"
)

func summarySelectSQL() string {
	cols := make([]string, 0, len(summaryColumns))
	for _, c := range summaryColumns {
		cols = append(cols, "COALESCE(ss."+c+", 0)")
	}
	return `SELECT s.id, s.user_id, s.user_email, s.organization_id, s.started_at_ms, s.ended_at_ms, s.last_seen_at_ms, s.command_count, ` +
		strings.Join(cols, ", ") + `, COALESCE(ss.updated_at_ms, s.last_seen_at_ms)
FROM sessions s LEFT JOIN session_summaries ss ON ss.session_id = s.id
WHERE s.id = ?`
}

var getSummarySQL = summarySelectSQL()

// GetSummary returns the incrementally maintained summary joined with its session row.
// Returns ErrNotFound if the session does not exist.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	return s.getSummary(ctx, s.db, sessionID)
}

func (s *Store) getSummary(ctx context.Context, qr querier, sessionID string) (*domain.SessionSummary, error) {
	var (
		sum       domain.SessionSummary
		sess      domain.Session
		startMS   int64
		seenMS    int64
		updatedMS int64
		endMS     sql.NullInt64
	)
	dest := []any{&sess.ID, &sess.UserID, &sess.UserEmail, &sess.OrganizationID, &startMS, &endMS, &seenMS, &sess.CommandCount}
	dest = append(dest, totalsDest(&sum.Totals)...)
	dest = append(dest, &updatedMS)
	err := qr.QueryRowContext(ctx, s.q(getSummarySQL), sessionID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.StartedAt = fromMillis(startMS)
	sess.LastSeenAt = fromMillis(seenMS)
	if endMS.Valid {
		t := fromMillis(endMS.Int64)
		sess.EndedAt = &t
	}
	fillSessionFields(&sum, &sess)
	sum.UpdatedAt = fromMillis(updatedMS)
	return &sum, nil
}

// fillSessionFields copies the denormalized session fields into sum. Active sessions report the
// elapsed time up to their last activity as duration.
func fillSessionFields(sum *domain.SessionSummary, sess *domain.Session) {
	sum.SessionID = sess.ID
	sum.UserID = sess.UserID
	sum.UserEmail = sess.UserEmail
	sum.OrganizationID = sess.OrganizationID
	sum.StartedAt = sess.StartedAt
	sum.EndedAt = sess.EndedAt
	sum.CommandCount = sess.CommandCount
	end := sess.LastSeenAt
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	if d := end.Sub(sess.StartedAt); d > 0 {
		sum.DurationSeconds = int64(d.Seconds())
	}
}

// replayTotals folds every raw event of sessionID, in insertion order per table, into fresh totals.
// The fold uses the same Delta functions as incremental aggregation.
func (s *Store) replayTotals(ctx context.Context, qr querier, sessionID string) (domain.Totals, error) {
	var t domain.Totals
	f := domain.Filter{SessionID: sessionID}

	costs, err := s.costRecords(ctx, qr, f, "id")
	if err != nil {
		return t, fmt.Errorf("replay cost records: %w", err)
	}
	for _, c := range costs {
		t.Apply(domain.DeltaForCost(c))
	}
	points, err := s.metricPoints(ctx, qr, f, "id")
	if err != nil {
		return t, fmt.Errorf("replay metric points: %w", err)
	}
	for _, p := range points {
		t.Apply(domain.DeltaForMetricPoint(p))
	}
	events, err := s.productivityEvents(ctx, qr, f, "id")
	if err != nil {
		return t, fmt.Errorf("replay productivity events: %w", err)
	}
	for _, e := range events {
		t.Apply(domain.DeltaForProductivity(e))
	}
	tools, err := s.toolUsage(ctx, qr, f, "id")
	if err != nil {
		return t, fmt.Errorf("replay tool usage: %w", err)
	}
	for _, r := range tools {
		t.Apply(domain.DeltaForToolUsage(r))
	}
	return t, nil
}

// RebuildSummary recomputes the session's summary from its raw events, stores it in place of the
// incremental one and returns it. Returns ErrNotFound if the session does not exist.
func (s *Store) RebuildSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	var out *domain.SessionSummary
	err := s.inSessionTx(ctx, sessionID, "rebuild_summary", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM sessions WHERE id = ?`), sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		totals, err := s.replayTotals(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		args := append([]any{sessionID}, totalsArgs(totals)...)
		args = append(args, toMillis(s.now()))
		if _, err := tx.ExecContext(ctx, s.q(replaceSummarySQL), args...); err != nil {
			return fmt.Errorf("store rebuilt summary: %w", err)
		}
		out, err = s.getSummary(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

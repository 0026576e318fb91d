package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codescope/backend/internal/db"
	"codescope/backend/internal/db/migrate"
	"codescope/backend/internal/usage/domain"
)

var base = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.RunWithDB(conn, "up"))
	return New(conn, Options{Now: func() time.Time { return base }})
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestStore_CostScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records := []domain.CostRecord{
		{SessionID: "S", Model: "opus", CostUSD: 1.00, InputTokens: 100, OutputTokens: 50},
		{SessionID: "S", Model: "opus", CostUSD: 2.50, InputTokens: 200, OutputTokens: 100},
		{SessionID: "S", Model: "haiku", CostUSD: 0.75, InputTokens: 50, OutputTokens: 25},
	}
	for i := range records {
		records[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.RecordCost(ctx, &records[i]))
		assert.NotZero(t, records[i].ID)
	}

	sum, err := s.GetSummary(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 4.25, sum.TotalCostUSD)
	assert.Equal(t, int64(350), sum.TotalInputTokens)
	assert.Equal(t, int64(175), sum.TotalOutputTokens)
	assert.Equal(t, int64(3), sum.CostRecordCount)
	assert.Equal(t, base, sum.StartedAt)
	assert.Equal(t, int64(120), sum.DurationSeconds)
}

func TestStore_CommitScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := &domain.ProductivityEvent{SessionID: "fresh", Kind: domain.KindCommit, LinesAdded: 40, LinesRemoved: 10, Timestamp: base}
	require.NoError(t, s.RecordProductivityEvent(ctx, ev))

	sum, err := s.GetSummary(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.CommitCount)
	assert.Equal(t, int64(0), sum.PullRequestCount)
	assert.Equal(t, int64(40), sum.LinesAdded)
	assert.Equal(t, int64(10), sum.LinesRemoved)
	assert.Equal(t, int64(1), ev.Count)
}

func TestStore_SessionCreatedOnFirstEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := domain.Identity{UserID: "u1", UserEmail: "Dev@Example.com", OrganizationID: "org-1"}
	require.NoError(t, s.RecordToolUsage(ctx, &domain.ToolUsageRecord{
		SessionID: "new", ToolName: "Bash", Invocations: 2, SuccessCount: 1, ErrorCount: 1, Timestamp: base, Identity: id,
	}))

	sess, err := s.GetSession(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "Dev@Example.com", sess.UserEmail)
	assert.Equal(t, "org-1", sess.OrganizationID)
	assert.True(t, sess.Active())
	assert.Equal(t, int64(0), sess.CommandCount)

	sum, err := s.GetSummary(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.ToolInvocations)
	assert.Equal(t, int64(1), sum.ToolErrors)

	// Later events never overwrite identity that is already set.
	require.NoError(t, s.RecordSession(ctx, domain.SessionEvent{
		SessionID: "new", Commands: 3, Timestamp: base.Add(-time.Hour),
		Identity: domain.Identity{UserEmail: "other@example.com"},
	}))
	sess, err = s.GetSession(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "Dev@Example.com", sess.UserEmail)
	assert.Equal(t, int64(3), sess.CommandCount)
	assert.Equal(t, base.Add(-time.Hour), sess.StartedAt)
	assert.Equal(t, base, sess.LastSeenAt)
}

func TestStore_EndSessionOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, domain.SessionEvent{SessionID: "e", Timestamp: base}))
	require.NoError(t, s.EndSession(ctx, "e", base.Add(10*time.Minute)))
	require.NoError(t, s.EndSession(ctx, "e", base.Add(20*time.Minute)))

	sess, err := s.GetSession(ctx, "e")
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, base.Add(10*time.Minute), *sess.EndedAt)
	assert.Equal(t, 10*time.Minute, sess.Duration())
}

func TestStore_RecordSessionRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordSession(context.Background(), domain.SessionEvent{})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, s.RecordMetricPoint(context.Background(), &domain.MetricPoint{}), ErrInvalidEvent)
	assert.ErrorIs(t, s.RecordProductivityEvent(context.Background(), &domain.ProductivityEvent{Kind: "bogus"}), ErrInvalidEvent)
	assert.ErrorIs(t, s.RecordToolUsage(context.Background(), &domain.ToolUsageRecord{}), ErrInvalidEvent)
	assert.ErrorIs(t, s.RecordCost(context.Background(), nil), ErrInvalidEvent)
}

func TestStore_EventWithoutSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &domain.MetricPoint{Name: "custom.metric", Category: "custom", Value: 3, Labels: domain.Labels{"k": "v"}}
	require.NoError(t, s.RecordMetricPoint(ctx, p))
	assert.Equal(t, base, p.Timestamp)
	assert.Equal(t, 0, countRows(t, s, "sessions"))
	assert.Equal(t, 0, countRows(t, s, "session_summaries"))

	points, err := s.MetricPoints(ctx, domain.Filter{Name: "custom.metric"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "", points[0].SessionID)
	assert.Equal(t, "v", points[0].Labels.Get("k"))
}

func TestStore_GetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSummary(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.RebuildSummary(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "d", CostUSD: 1}))
	require.NoError(t, s.RecordMetricPoint(ctx, &domain.MetricPoint{SessionID: "d", Name: "x", Category: "custom"}))
	require.NoError(t, s.RecordProductivityEvent(ctx, &domain.ProductivityEvent{SessionID: "d", Kind: domain.KindPullRequest}))
	require.NoError(t, s.RecordToolUsage(ctx, &domain.ToolUsageRecord{SessionID: "d", ToolName: "Edit", Invocations: 1}))
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "keep", CostUSD: 2}))

	require.NoError(t, s.DeleteSession(ctx, "d"))
	for _, table := range []string{"metric_points", "productivity_events", "tool_usage_records"} {
		assert.Equal(t, 0, countRows(t, s, table), table)
	}
	assert.Equal(t, 1, countRows(t, s, "cost_records"))
	assert.Equal(t, 1, countRows(t, s, "session_summaries"))
	assert.Equal(t, 1, countRows(t, s, "sessions"))
	assert.ErrorIs(t, s.DeleteSession(ctx, "d"), ErrNotFound)
}

func TestStore_RebuildMatchesIncrementalUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const workers = 8
	const perWorker = 15

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ts := base.Add(time.Duration(w*perWorker+i) * time.Second)
				var err error
				switch i % 5 {
				case 0:
					err = s.RecordCost(ctx, &domain.CostRecord{SessionID: "C", Model: "m", CostUSD: 0.1 * float64(w+1), InputTokens: int64(i), OutputTokens: 3, CacheReadTokens: 7, Timestamp: ts})
				case 1:
					err = s.RecordProductivityEvent(ctx, &domain.ProductivityEvent{SessionID: "C", Kind: domain.KindCommit, LinesAdded: int64(i), LinesRemoved: 1, Timestamp: ts})
				case 2:
					err = s.RecordToolUsage(ctx, &domain.ToolUsageRecord{SessionID: "C", ToolName: "Read", Invocations: 2, SuccessCount: 1, ErrorCount: 1, Timestamp: ts})
				case 3:
					err = s.RecordMetricPoint(ctx, &domain.MetricPoint{SessionID: "C", Name: "claude_code.api_error", Category: domain.CategoryErrors, Value: 1, Timestamp: ts})
				case 4:
					err = s.RecordSession(ctx, domain.SessionEvent{SessionID: "C", Commands: 1, Timestamp: ts})
				}
				if err != nil {
					errs <- fmt.Errorf("worker %d op %d: %w", w, i, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	incremental, err := s.GetSummary(ctx, "C")
	require.NoError(t, err)
	rebuilt, err := s.RebuildSummary(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, incremental.Totals, rebuilt.Totals)
	assert.Equal(t, int64(workers*3), incremental.CommitCount)
	assert.Equal(t, int64(workers*3), incremental.ErrorCount)
	assert.Equal(t, int64(workers*3), incremental.CommandCount)
	assert.Equal(t, int64(workers*3*2), incremental.ToolInvocations)
	assert.Equal(t, 0, s.locks.size())
}

func TestStore_DuplicateConcurrentIngestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &domain.CostRecord{SessionID: "dup", Model: "m", CostUSD: 1.5, InputTokens: 10, OutputTokens: 5, Timestamp: base}
			assert.NoError(t, s.RecordCost(ctx, rec))
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, countRows(t, s, "cost_records"))
	sum, err := s.GetSummary(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 3.0, sum.TotalCostUSD)
	assert.Equal(t, int64(20), sum.TotalInputTokens)
	assert.Equal(t, int64(2), sum.CostRecordCount)
}

func TestStore_RebuildRepairsDriftedSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "r", CostUSD: 2, InputTokens: 4}))
	_, err := s.db.Exec(`UPDATE session_summaries SET total_cost_usd = 99, total_input_tokens = 0 WHERE session_id = 'r'`)
	require.NoError(t, err)

	sum, err := s.RebuildSummary(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum.TotalCostUSD)
	assert.Equal(t, int64(4), sum.TotalInputTokens)
}

func TestStore_RangeQueriesAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := domain.Identity{UserEmail: "alice@example.com", OrganizationID: "acme"}
	bob := domain.Identity{UserEmail: "bob@example.com", OrganizationID: "globex"}
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "a1", CostUSD: 1, Timestamp: base, Identity: alice}))
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "b1", CostUSD: 2, Timestamp: base.Add(time.Hour), Identity: bob}))
	require.NoError(t, s.RecordCost(ctx, &domain.CostRecord{SessionID: "a1", CostUSD: 3, Timestamp: base.Add(48 * time.Hour), Identity: alice}))

	all, err := s.CostRecords(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	window, err := s.CostRecords(ctx, domain.Filter{Start: base, End: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	byUser, err := s.CostRecords(ctx, domain.Filter{UserEmail: "alice@example.com"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byOrg, err := s.CostRecords(ctx, domain.Filter{OrganizationID: "globex"})
	require.NoError(t, err)
	require.Len(t, byOrg, 1)
	assert.Equal(t, 2.0, byOrg[0].CostUSD)

	sessions, err := s.Sessions(ctx, domain.Filter{Start: base, End: base.Add(24 * time.Hour), OrganizationID: "acme"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a1", sessions[0].ID)
}

func TestStore_ListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, s.RecordSession(ctx, domain.SessionEvent{SessionID: id, Timestamp: base.Add(time.Duration(i) * time.Minute),
			Identity: domain.Identity{UserEmail: "dev@example.com"}}))
	}
	require.NoError(t, s.EndSession(ctx, "s0", base.Add(time.Hour)))

	page, total, err := s.ListSessions(ctx, domain.ListSessionsParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "s4", page[0].ID)

	completed, total, err := s.ListSessions(ctx, domain.ListSessionsParams{Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, "s0", completed[0].ID)

	_, total, err = s.ListSessions(ctx, domain.ListSessionsParams{UserEmail: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestStore_CloseIdleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, domain.SessionEvent{SessionID: "old", Timestamp: base}))
	require.NoError(t, s.RecordSession(ctx, domain.SessionEvent{SessionID: "recent", Timestamp: base.Add(time.Hour)}))

	n, err := s.CloseIdleSessions(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := s.GetSession(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, old.EndedAt)
	assert.Equal(t, base, *old.EndedAt)

	recent, err := s.GetSession(ctx, "recent")
	require.NoError(t, err)
	assert.True(t, recent.Active())
}

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	l := newKeyLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, l.size())

	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different keys should not block each other")
	}
	unlockA()
	l.Lock("")()
}

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.False(t, isConflict(errors.New("plain")))
}

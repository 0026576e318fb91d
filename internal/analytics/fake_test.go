package analytics

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"codescope/backend/internal/usage/domain"
)

// memStore is an in-memory Store that applies domain.Filter like the SQL store.
type memStore struct {
	mu       sync.Mutex
	sessions []*domain.Session
	points   []*domain.MetricPoint
	costs    []*domain.CostRecord
	events   []*domain.ProductivityEvent
	tools    []*domain.ToolUsageRecord
	calls    int
	err      error
}

func match(f domain.Filter, ts time.Time, id domain.Identity, sessionID string) bool {
	if !f.Start.IsZero() && ts.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !ts.Before(f.End) {
		return false
	}
	if f.UserEmail != "" && id.UserEmail != f.UserEmail {
		return false
	}
	if f.OrganizationID != "" && id.OrganizationID != f.OrganizationID {
		return false
	}
	if f.SessionID != "" && sessionID != f.SessionID {
		return false
	}
	return true
}

func (m *memStore) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *memStore) Sessions(ctx context.Context, f domain.Filter) ([]*domain.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, s := range m.sessions {
		id := domain.Identity{UserEmail: s.UserEmail, OrganizationID: s.OrganizationID}
		if match(f, s.StartedAt, id, s.ID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) MetricPoints(ctx context.Context, f domain.Filter) ([]*domain.MetricPoint, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	var out []*domain.MetricPoint
	for _, p := range m.points {
		if match(f, p.Timestamp, p.Identity, p.SessionID) && (f.Name == "" || p.Name == f.Name) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.MetricPoint) int { return a.Timestamp.Compare(b.Timestamp) })
	if f.Descending {
		slices.Reverse(out)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) CostRecords(ctx context.Context, f domain.Filter) ([]*domain.CostRecord, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	var out []*domain.CostRecord
	for _, c := range m.costs {
		if match(f, c.Timestamp, c.Identity, c.SessionID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ProductivityEvents(ctx context.Context, f domain.Filter) ([]*domain.ProductivityEvent, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	var out []*domain.ProductivityEvent
	for _, ev := range m.events {
		if match(f, ev.Timestamp, ev.Identity, ev.SessionID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) ToolUsage(ctx context.Context, f domain.Filter) ([]*domain.ToolUsageRecord, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	var out []*domain.ToolUsageRecord
	for _, r := range m.tools {
		if match(f, r.Timestamp, r.Identity, r.SessionID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memCache is an in-memory Cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	b, ok := c.entries[key]
	return b, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

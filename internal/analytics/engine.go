// Package analytics computes windowed statistics, distributions and projections over the usage
// store. The engine holds no state between calls; an optional Cache memoizes results.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/usage/domain"
)

// Store is the read side of the usage store needed by the engine.
type Store interface {
	Sessions(ctx context.Context, f domain.Filter) ([]*domain.Session, error)
	MetricPoints(ctx context.Context, f domain.Filter) ([]*domain.MetricPoint, error)
	CostRecords(ctx context.Context, f domain.Filter) ([]*domain.CostRecord, error)
	ProductivityEvents(ctx context.Context, f domain.Filter) ([]*domain.ProductivityEvent, error)
	ToolUsage(ctx context.Context, f domain.Filter) ([]*domain.ToolUsageRecord, error)
}

// Cache stores encoded results by key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Options configures an Engine.
type Options struct {
	// Location is the reporting timezone for the heatmap and the budget month. Defaults to UTC.
	Location *time.Location
	// MonthlyBudgetUSD is the budget used by BudgetProgress.
	MonthlyBudgetUSD float64
	// Cache is optional; nil disables caching.
	Cache  Cache
	Logger logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine answers analytics queries.
type Engine struct {
	store  Store
	loc    *time.Location
	budget float64
	cache  Cache
	log    logging.Logger
	now    func() time.Time
}

// New returns an Engine reading from store.
func New(store Store, opts Options) *Engine {
	e := &Engine{
		store:  store,
		loc:    opts.Location,
		budget: opts.MonthlyBudgetUSD,
		cache:  opts.Cache,
		log:    logging.OrDiscard(opts.Logger),
		now:    opts.Now,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Now returns the engine clock; named ranges are resolved against it.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Location returns the reporting timezone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// cached returns the cached value for key or computes and stores it. Cache failures are logged and
// treated as misses.
func cached[T any](ctx context.Context, e *Engine, key string, compute func() (*T, error)) (*T, error) {
	if e.cache == nil {
		return compute()
	}
	log := e.log.WithField("cache_key", key)
	if b, ok, err := e.cache.Get(ctx, key); err != nil {
		log.WithError(err).Warn("analytics: cache read failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return &v, nil
		}
		log.Warn("analytics: undecodable cache entry")
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("analytics: cache encode failed")
		return v, nil
	}
	if err := e.cache.Set(ctx, key, b); err != nil {
		log.WithError(err).Warn("analytics: cache write failed")
	}
	return v, nil
}

// percent returns part / whole * 100, or 0 when whole is 0.
func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

// ratio returns a / b, or 0 when b is 0.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// change is the percentage change from prev to cur, 0 when prev is 0.
func change(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// palette colors ranked chart series.
var palette = []string{"#8b5cf6", "#06b6d4", "#10b981", "#f59e0b", "#ef4444", "#6b7280"}

func colorAt(i int) string {
	return palette[i%len(palette)]
}

package analytics

import (
	"context"
	"time"

	"codescope/backend/internal/usage/domain"
)

// TokenTrendPoint is one bucket of token usage.
type TokenTrendPoint struct {
	Timestamp           time.Time `json:"timestamp"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	TotalTokens         int64     `json:"total_tokens"`
}

// TokenTrend is the zero-filled token usage series for a range.
type TokenTrend struct {
	Range       string            `json:"range"`
	StepSeconds int64             `json:"step_seconds"`
	DataPoints  []TokenTrendPoint `json:"data_points"`
}

// CostPoint is one bucket of cost and tokens.
type CostPoint struct {
	Timestamp           time.Time `json:"timestamp"`
	CostUSD             float64   `json:"cost_usd"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
}

// ProductivityPoint is one bucket of productivity events.
type ProductivityPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	Commits      int64     `json:"commits"`
	PullRequests int64     `json:"pull_requests"`
	LinesAdded   int64     `json:"lines_added"`
	LinesRemoved int64     `json:"lines_removed"`
}

// TokenTrend buckets token usage over q's range.
func (e *Engine) TokenTrend(ctx context.Context, q Query) (*TokenTrend, error) {
	return cached(ctx, e, q.cacheKey("token-trend"), func() (*TokenTrend, error) {
		recs, err := e.store.CostRecords(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		return &TokenTrend{
			Range:       q.Label(),
			StepSeconds: int64(q.Step() / time.Second),
			DataPoints:  tokenTrend(q.Range, recs),
		}, nil
	})
}

func tokenTrend(r Range, recs []*domain.CostRecord) []TokenTrendPoint {
	points := make([]TokenTrendPoint, r.BucketCount())
	for i, ts := range r.Buckets() {
		points[i].Timestamp = ts
	}
	for _, c := range recs {
		i := r.bucketIndex(c.Timestamp)
		if i < 0 {
			continue
		}
		p := &points[i]
		p.InputTokens += c.InputTokens
		p.OutputTokens += c.OutputTokens
		p.CacheCreationTokens += c.CacheCreationTokens
		p.CacheReadTokens += c.CacheReadTokens
		p.TotalTokens += c.TotalTokens()
	}
	return points
}

func costTrend(r Range, recs []*domain.CostRecord) []CostPoint {
	points := make([]CostPoint, r.BucketCount())
	for i, ts := range r.Buckets() {
		points[i].Timestamp = ts
	}
	for _, c := range recs {
		i := r.bucketIndex(c.Timestamp)
		if i < 0 {
			continue
		}
		p := &points[i]
		p.CostUSD += c.CostUSD
		p.InputTokens += c.InputTokens
		p.OutputTokens += c.OutputTokens
		p.CacheCreationTokens += c.CacheCreationTokens
		p.CacheReadTokens += c.CacheReadTokens
	}
	return points
}

func productivityTrend(r Range, events []*domain.ProductivityEvent) []ProductivityPoint {
	points := make([]ProductivityPoint, r.BucketCount())
	for i, ts := range r.Buckets() {
		points[i].Timestamp = ts
	}
	for _, ev := range events {
		i := r.bucketIndex(ev.Timestamp)
		if i < 0 {
			continue
		}
		p := &points[i]
		switch ev.Kind {
		case domain.KindCommit:
			p.Commits += ev.EffectiveCount()
		case domain.KindPullRequest:
			p.PullRequests += ev.EffectiveCount()
		}
		p.LinesAdded += ev.LinesAdded
		p.LinesRemoved += ev.LinesRemoved
	}
	return points
}

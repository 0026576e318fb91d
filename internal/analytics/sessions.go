package analytics

import (
	"context"
	"math"
	"slices"
	"time"

	"codescope/backend/internal/usage/domain"
)

const (
	recentActivityLimit = 10
	topToolsLimit       = 5
	maxTimelinePoints   = 10000
)

// DurationBucket counts completed sessions whose duration falls in [MinMinutes, MaxMinutes).
// MaxMinutes 0 means unbounded.
type DurationBucket struct {
	Label        string  `json:"label"`
	MinMinutes   int     `json:"min_minutes"`
	MaxMinutes   int     `json:"max_minutes"`
	SessionCount int64   `json:"session_count"`
	Percentage   float64 `json:"percentage"`
}

// DurationTimePoint is the mean duration of sessions started in one bucket.
type DurationTimePoint struct {
	Timestamp          time.Time `json:"timestamp"`
	AvgDurationMinutes float64   `json:"avg_duration_minutes"`
	SessionCount       int64     `json:"session_count"`
}

// SessionDurationDistribution describes completed session durations. Active sessions are excluded.
type SessionDurationDistribution struct {
	TotalSessions         int64               `json:"total_sessions"`
	AvgDurationMinutes    float64             `json:"avg_duration_minutes"`
	MedianDurationMinutes float64             `json:"median_duration_minutes"`
	DistributionBuckets   []DurationBucket    `json:"distribution_buckets"`
	DurationOverTime      []DurationTimePoint `json:"duration_over_time"`
}

// HeatmapCell is one (day of week, hour) cell. DayOfWeek 0 is Sunday.
type HeatmapCell struct {
	DayOfWeek    int     `json:"day_of_week"`
	Hour         int     `json:"hour"`
	SessionCount int64   `json:"session_count"`
	TokenCount   int64   `json:"token_count"`
	Intensity    float64 `json:"intensity"`
}

// UsageHeatmap is the 7x24 activity grid ordered by day then hour.
type UsageHeatmap struct {
	Timezone        string        `json:"timezone"`
	MaxSessionCount int64         `json:"max_session_count"`
	Heatmap         []HeatmapCell `json:"heatmap"`
}

// ToolShare is a tool's share of invocations in the overview.
type ToolShare struct {
	Name       string  `json:"name"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// MetricsOverview summarizes session activity in a range.
type MetricsOverview struct {
	TotalSessions             int64                 `json:"total_sessions"`
	ActiveSessions            int64                 `json:"active_sessions"`
	TotalCommands             int64                 `json:"total_commands"`
	AvgSessionDurationSeconds float64               `json:"avg_session_duration"`
	TopTools                  []ToolShare           `json:"top_tools"`
	RecentActivity            []*domain.MetricPoint `json:"recent_activity"`
}

// TimelineSummary aggregates the values of a timeline.
type TimelineSummary struct {
	TotalPoints int64   `json:"total_points"`
	AvgValue    float64 `json:"avg_value"`
	MinValue    float64 `json:"min_value"`
	MaxValue    float64 `json:"max_value"`
}

// Timeline is the raw metric series for a range, oldest first.
type Timeline struct {
	Range   string                `json:"range"`
	Points  []*domain.MetricPoint `json:"points"`
	Summary TimelineSummary       `json:"summary"`
}

var durationBuckets = []DurationBucket{
	{Label: "0-5 min", MinMinutes: 0, MaxMinutes: 5},
	{Label: "5-15 min", MinMinutes: 5, MaxMinutes: 15},
	{Label: "15-30 min", MinMinutes: 15, MaxMinutes: 30},
	{Label: "30-60 min", MinMinutes: 30, MaxMinutes: 60},
	{Label: "60+ min", MinMinutes: 60},
}

// SessionDuration buckets completed sessions started in q's range by duration.
func (e *Engine) SessionDuration(ctx context.Context, q Query) (*SessionDurationDistribution, error) {
	return cached(ctx, e, q.cacheKey("session-duration"), func() (*SessionDurationDistribution, error) {
		sessions, err := e.store.Sessions(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		return durationDistribution(q.Range, sessions), nil
	})
}

func durationDistribution(r Range, sessions []*domain.Session) *SessionDurationDistribution {
	out := &SessionDurationDistribution{
		DistributionBuckets: slices.Clone(durationBuckets),
		DurationOverTime:    make([]DurationTimePoint, r.BucketCount()),
	}
	for i, ts := range r.Buckets() {
		out.DurationOverTime[i].Timestamp = ts
	}

	var minutes []float64
	for _, s := range sessions {
		if s.Active() {
			continue
		}
		m := s.Duration().Minutes()
		minutes = append(minutes, m)
		for i := range out.DistributionBuckets {
			b := &out.DistributionBuckets[i]
			if m >= float64(b.MinMinutes) && (b.MaxMinutes == 0 || m < float64(b.MaxMinutes)) {
				b.SessionCount++
				break
			}
		}
		if i := r.bucketIndex(s.StartedAt); i >= 0 {
			p := &out.DurationOverTime[i]
			p.AvgDurationMinutes += m
			p.SessionCount++
		}
	}
	for i := range out.DurationOverTime {
		p := &out.DurationOverTime[i]
		p.AvgDurationMinutes = ratio(p.AvgDurationMinutes, float64(p.SessionCount))
	}

	out.TotalSessions = int64(len(minutes))
	for i := range out.DistributionBuckets {
		b := &out.DistributionBuckets[i]
		b.Percentage = percent(float64(b.SessionCount), float64(out.TotalSessions))
	}
	if len(minutes) > 0 {
		var sum float64
		for _, m := range minutes {
			sum += m
		}
		out.AvgDurationMinutes = sum / float64(len(minutes))
		out.MedianDurationMinutes = median(minutes)
	}
	return out
}

func median(vs []float64) float64 {
	s := slices.Clone(vs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// UsageHeatmap counts session starts and tokens per (weekday, hour) in the reporting timezone.
// intensity = cell sessions / busiest cell sessions, 0 everywhere when no session started.
func (e *Engine) UsageHeatmap(ctx context.Context, q Query) (*UsageHeatmap, error) {
	return cached(ctx, e, q.cacheKey("usage-heatmap"), func() (*UsageHeatmap, error) {
		sessions, err := e.store.Sessions(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		recs, err := e.store.CostRecords(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		return heatmap(e.loc, sessions, recs), nil
	})
}

func heatmap(loc *time.Location, sessions []*domain.Session, recs []*domain.CostRecord) *UsageHeatmap {
	out := &UsageHeatmap{Timezone: loc.String(), Heatmap: make([]HeatmapCell, 7*24)}
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			out.Heatmap[d*24+h] = HeatmapCell{DayOfWeek: d, Hour: h}
		}
	}
	cell := func(t time.Time) *HeatmapCell {
		t = t.In(loc)
		return &out.Heatmap[int(t.Weekday())*24+t.Hour()]
	}
	for _, s := range sessions {
		c := cell(s.StartedAt)
		c.SessionCount++
		out.MaxSessionCount = max(out.MaxSessionCount, c.SessionCount)
	}
	for _, r := range recs {
		cell(r.Timestamp).TokenCount += r.TotalTokens()
	}
	for i := range out.Heatmap {
		c := &out.Heatmap[i]
		c.Intensity = ratio(float64(c.SessionCount), float64(out.MaxSessionCount))
	}
	return out
}

// Overview summarizes sessions started in q's range, the most used tools and the latest metric points.
func (e *Engine) Overview(ctx context.Context, q Query) (*MetricsOverview, error) {
	return cached(ctx, e, q.cacheKey("overview"), func() (*MetricsOverview, error) {
		f := q.filter()
		sessions, err := e.store.Sessions(ctx, f)
		if err != nil {
			return nil, err
		}
		tools, err := e.store.ToolUsage(ctx, f)
		if err != nil {
			return nil, err
		}
		recent := f
		recent.Limit = recentActivityLimit
		recent.Descending = true
		points, err := e.store.MetricPoints(ctx, recent)
		if err != nil {
			return nil, err
		}

		out := &MetricsOverview{
			TotalSessions:  int64(len(sessions)),
			TopTools:       []ToolShare{},
			RecentActivity: points,
		}
		if out.RecentActivity == nil {
			out.RecentActivity = []*domain.MetricPoint{}
		}
		var completed int64
		var seconds float64
		for _, s := range sessions {
			out.TotalCommands += s.CommandCount
			if s.Active() {
				out.ActiveSessions++
				continue
			}
			completed++
			seconds += s.Duration().Seconds()
		}
		out.AvgSessionDurationSeconds = ratio(seconds, float64(completed))

		dist := toolDistribution(tools)
		for i, t := range dist.Tools {
			if i == topToolsLimit {
				break
			}
			out.TopTools = append(out.TopTools, ToolShare{Name: t.ToolName, Count: t.UsageCount, Percentage: t.Percentage})
		}
		return out, nil
	})
}

// Timeline returns the metric points in q's range, optionally restricted to one metric name. Only
// the newest points are kept when the range holds more than the timeline cap.
func (e *Engine) Timeline(ctx context.Context, q Query, name string) (*Timeline, error) {
	return cached(ctx, e, q.cacheKey("timeline|"+name), func() (*Timeline, error) {
		f := q.filter()
		f.Name = name
		f.Limit = maxTimelinePoints
		f.Descending = true
		points, err := e.store.MetricPoints(ctx, f)
		if err != nil {
			return nil, err
		}
		slices.Reverse(points)
		if points == nil {
			points = []*domain.MetricPoint{}
		}
		return &Timeline{Range: q.Label(), Points: points, Summary: summarize(points)}, nil
	})
}

func summarize(points []*domain.MetricPoint) TimelineSummary {
	if len(points) == 0 {
		return TimelineSummary{}
	}
	s := TimelineSummary{TotalPoints: int64(len(points)), MinValue: math.Inf(1), MaxValue: math.Inf(-1)}
	var sum float64
	for _, p := range points {
		sum += p.Value
		s.MinValue = math.Min(s.MinValue, p.Value)
		s.MaxValue = math.Max(s.MaxValue, p.Value)
	}
	s.AvgValue = sum / float64(len(points))
	return s
}

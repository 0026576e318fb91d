package domain

import "time"

// CategoryErrors is the metric point category that contributes to SessionSummary.ErrorCount.
const CategoryErrors = "errors"

// SessionSummary is the running-total aggregate for one session. Counters equal the fold of the
// session's raw events; session fields (identity, start/end, command count) come from the session row.
type SessionSummary struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	UserEmail       string     `json:"user_email"`
	OrganizationID  string     `json:"organization_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds int64      `json:"duration_seconds"`
	CommandCount    int64      `json:"command_count"`

	Totals
	UpdatedAt time.Time `json:"updated_at"`
}

// Totals holds the event-derived counters of a SessionSummary.
type Totals struct {
	TotalInputTokens         int64   `json:"total_input_tokens"`
	TotalOutputTokens        int64   `json:"total_output_tokens"`
	TotalCacheCreationTokens int64   `json:"total_cache_creation_tokens"`
	TotalCacheReadTokens     int64   `json:"total_cache_read_tokens"`
	TotalCostUSD             float64 `json:"total_cost_usd"`
	CommitCount              int64   `json:"commit_count"`
	PullRequestCount         int64   `json:"pull_request_count"`
	LinesAdded               int64   `json:"lines_added"`
	LinesRemoved             int64   `json:"lines_removed"`
	FilesChanged             int64   `json:"files_changed"`
	ToolInvocations          int64   `json:"tool_invocations"`
	ToolErrors               int64   `json:"tool_errors"`
	ErrorCount               int64   `json:"error_count"`
	MetricPointCount         int64   `json:"metric_point_count"`
	CostRecordCount          int64   `json:"cost_record_count"`
	ProductivityEventCount   int64   `json:"productivity_event_count"`
	ToolUsageCount           int64   `json:"tool_usage_count"`
}

// Delta is one raw event's contribution to Totals. It is the single definition of "contribution"
// shared by incremental aggregation and full replay.
type Delta = Totals

// Apply adds d to t.
func (t *Totals) Apply(d Delta) {
	t.TotalInputTokens += d.TotalInputTokens
	t.TotalOutputTokens += d.TotalOutputTokens
	t.TotalCacheCreationTokens += d.TotalCacheCreationTokens
	t.TotalCacheReadTokens += d.TotalCacheReadTokens
	t.TotalCostUSD += d.TotalCostUSD
	t.CommitCount += d.CommitCount
	t.PullRequestCount += d.PullRequestCount
	t.LinesAdded += d.LinesAdded
	t.LinesRemoved += d.LinesRemoved
	t.FilesChanged += d.FilesChanged
	t.ToolInvocations += d.ToolInvocations
	t.ToolErrors += d.ToolErrors
	t.ErrorCount += d.ErrorCount
	t.MetricPointCount += d.MetricPointCount
	t.CostRecordCount += d.CostRecordCount
	t.ProductivityEventCount += d.ProductivityEventCount
	t.ToolUsageCount += d.ToolUsageCount
}

// DeltaForCost returns the contribution of a cost record.
func DeltaForCost(c *CostRecord) Delta {
	return Delta{
		TotalInputTokens:         c.InputTokens,
		TotalOutputTokens:        c.OutputTokens,
		TotalCacheCreationTokens: c.CacheCreationTokens,
		TotalCacheReadTokens:     c.CacheReadTokens,
		TotalCostUSD:             c.CostUSD,
		CostRecordCount:          1,
	}
}

// DeltaForProductivity returns the contribution of a productivity event.
func DeltaForProductivity(e *ProductivityEvent) Delta {
	d := Delta{
		LinesAdded:             e.LinesAdded,
		LinesRemoved:           e.LinesRemoved,
		FilesChanged:           e.FilesChanged,
		ProductivityEventCount: 1,
	}
	switch e.Kind {
	case KindCommit:
		d.CommitCount = e.EffectiveCount()
	case KindPullRequest:
		d.PullRequestCount = e.EffectiveCount()
	}
	return d
}

// DeltaForToolUsage returns the contribution of a tool usage record.
func DeltaForToolUsage(r *ToolUsageRecord) Delta {
	return Delta{
		ToolInvocations: r.Invocations,
		ToolErrors:      r.ErrorCount,
		ToolUsageCount:  1,
	}
}

// DeltaForMetricPoint returns the contribution of a metric point. Each point in the errors
// category counts as one error.
func DeltaForMetricPoint(p *MetricPoint) Delta {
	d := Delta{MetricPointCount: 1}
	if p.Category == CategoryErrors {
		d.ErrorCount = 1
	}
	return d
}

// IsZero reports whether the delta contributes nothing.
func (t Totals) IsZero() bool {
	return t == Totals{}
}

// Package domain holds the persisted usage types: sessions, raw events and per-session summaries.
package domain

import "time"

// Identity is the identity context carried by every raw event. Empty fields mean the attribute was absent.
type Identity struct {
	UserID         string `json:"user_id,omitempty"`
	UserEmail      string `json:"user_email,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	Host           string `json:"host,omitempty"`
	Service        string `json:"service,omitempty"`
	Version        string `json:"version,omitempty"`
}

// Session is a bounded period of activity identified by a stable id.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	UserEmail      string     `json:"user_email"`
	OrganizationID string     `json:"organization_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"` // nil while active
	LastSeenAt     time.Time  `json:"last_seen_at"`
	CommandCount   int64      `json:"command_count"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns EndedAt - StartedAt for completed sessions and 0 for active ones.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// SessionEvent touches a session: creates it when missing, extends its activity window,
// adds Commands to the command count and, when End is set, ends it.
type SessionEvent struct {
	SessionID string
	Identity  Identity
	Timestamp time.Time
	Commands  int64
	End       bool
}

// MetricPoint is a generic immutable metric sample.
type MetricPoint struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Labels    Labels    `json:"labels"`
	Identity
}

// ProductivityKind is the kind of a ProductivityEvent.
type ProductivityKind string

const (
	KindCommit      ProductivityKind = "commit"
	KindPullRequest ProductivityKind = "pull_request"
	KindFileEdit    ProductivityKind = "file_edit"
)

// Valid reports whether k is one of the known kinds.
func (k ProductivityKind) Valid() bool {
	switch k {
	case KindCommit, KindPullRequest, KindFileEdit:
		return true
	}
	return false
}

// ProductivityEvent records a commit, pull request or file edit. Count is how many commits or PRs
// the event stands for (counters may report more than one per sample); zero is treated as one.
type ProductivityEvent struct {
	ID           int64            `json:"id"`
	SessionID    string           `json:"session_id,omitempty"`
	Kind         ProductivityKind `json:"kind"`
	Count        int64            `json:"count"`
	Repository   string           `json:"repository,omitempty"`
	FilesChanged int64            `json:"files_changed"`
	LinesAdded   int64            `json:"lines_added"`
	LinesRemoved int64            `json:"lines_removed"`
	CommitHash   string           `json:"commit_hash,omitempty"`
	Branch       string           `json:"branch,omitempty"`
	PRNumber     int64            `json:"pr_number,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	Identity
}

// EffectiveCount returns Count, or 1 when Count is not positive.
func (e *ProductivityEvent) EffectiveCount() int64 {
	if e.Count <= 0 {
		return 1
	}
	return e.Count
}

// CostRecord is one model usage sample with token counters and cost.
type CostRecord struct {
	ID                  int64     `json:"id"`
	SessionID           string    `json:"session_id,omitempty"`
	Model               string    `json:"model"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	CostUSD             float64   `json:"cost_usd"`
	Timestamp           time.Time `json:"timestamp"`
	Identity
}

// TotalTokens returns the sum of all four token counters.
func (c *CostRecord) TotalTokens() int64 {
	return c.InputTokens + c.OutputTokens + c.CacheCreationTokens + c.CacheReadTokens
}

// ToolUsageRecord is one tool usage sample.
type ToolUsageRecord struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	ToolName     string    `json:"tool_name"`
	Invocations  int64     `json:"invocations"`
	DurationMS   int64     `json:"duration_ms"`
	SuccessCount int64     `json:"success_count"`
	ErrorCount   int64     `json:"error_count"`
	Timestamp    time.Time `json:"timestamp"`
	Identity
}

// Filter narrows range queries. Zero Start/End leave that side unbounded; empty strings match anything.
type Filter struct {
	Start          time.Time
	End            time.Time
	UserEmail      string
	OrganizationID string
	SessionID      string
	// Name filters MetricPoints by exact name; ignored by other queries.
	Name string
	// Limit caps the number of rows returned; 0 means no limit.
	Limit int
	// Descending returns MetricPoints newest first; ignored by other queries.
	Descending bool
}

// ListSessionsParams pages through sessions ordered by start time, newest first.
type ListSessionsParams struct {
	Limit     int
	Offset    int
	UserEmail string
	// Status is "active", "completed" or empty for all.
	Status string
}

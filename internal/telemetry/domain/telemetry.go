// Package domain holds the decoded and classified telemetry record types shared by the
// receiver, the classifier and the ingest pipeline.
package domain

import (
	"time"

	usagedomain "codescope/backend/internal/usage/domain"
)

// Signal is the OTLP signal a record arrived on.
type Signal string

const (
	SignalMetrics Signal = "metrics"
	SignalLogs    Signal = "logs"
	SignalTraces  Signal = "traces"
)

// DataPoint is one decoded telemetry record. Attributes merges resource and point attributes,
// with point attributes winning on key collision.
type DataPoint struct {
	Signal     Signal
	Name       string
	Value      float64
	Timestamp  time.Time
	Attributes map[string]string
	// Index is the record's position within its batch, counting rejected records.
	Index int
	// Cumulative marks a monotonic sum reported as a running total since StartTime rather than
	// as the increment since the previous export.
	Cumulative bool
	StartTime  time.Time
}

// Category is the semantic taxonomy a record is sorted into.
type Category string

const (
	CategorySession      Category = "session"
	CategoryUsage        Category = "usage"
	CategoryCost         Category = "cost"
	CategoryProductivity Category = "productivity"
	CategoryTools        Category = "tools"
	CategoryErrors       Category = usagedomain.CategoryErrors
	CategoryPerformance  Category = "performance"
	CategoryCustom       Category = "custom"
)

// Kind refines a Category into the unit the ingest pipeline routes to storage.
type Kind string

const (
	KindSessionCount    Kind = "session_count"
	KindSessionEnd      Kind = "session_end"
	KindSessionDuration Kind = "session_duration"
	KindUserPrompt      Kind = "user_prompt"
	KindTokenUsage      Kind = "token_usage"
	KindCostUsage       Kind = "cost_usage"
	KindAPIRequest      Kind = "api_request"
	KindCommit          Kind = "commit"
	KindPullRequest     Kind = "pull_request"
	KindLinesOfCode     Kind = "lines_of_code"
	KindToolUsage       Kind = "tool_usage"
	KindToolResult      Kind = "tool_result"
	KindToolDecision    Kind = "tool_decision"
	KindError           Kind = "error"
	KindAPIError        Kind = "api_error"
	KindLatency         Kind = "latency"
	KindCustom          Kind = "custom"
)

// TokenType names which token counter a token_usage record feeds.
type TokenType string

const (
	TokenInput         TokenType = "input"
	TokenOutput        TokenType = "output"
	TokenCacheCreation TokenType = "cache_creation"
	TokenCacheRead     TokenType = "cache_read"
)

// LineChange names which line counter a lines_of_code record feeds.
type LineChange string

const (
	LinesAdded   LineChange = "added"
	LinesRemoved LineChange = "removed"
)

// Details are the label-derived facts a Kind needs for routing. Unset fields are zero.
type Details struct {
	TokenType  TokenType  `json:"token_type,omitempty"`
	LineChange LineChange `json:"line_change,omitempty"`
	Model      string     `json:"model,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	// Success is nil when the record carries no success attribute.
	Success *bool `json:"success,omitempty"`
}

// ClassifiedMetric is a DataPoint with its identity context and category resolved.
type ClassifiedMetric struct {
	Signal    Signal               `json:"signal"`
	Name      string               `json:"name"`
	Value     float64              `json:"value"`
	Timestamp time.Time            `json:"timestamp"`
	Labels    usagedomain.Labels   `json:"labels"`
	Category  Category             `json:"category"`
	Kind      Kind                 `json:"kind"`
	SessionID string               `json:"session_id,omitempty"`
	Identity  usagedomain.Identity `json:"identity"`
	Details   Details              `json:"details"`
}

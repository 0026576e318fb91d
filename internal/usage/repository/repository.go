// Package repository is the storage engine: raw usage events plus one incrementally maintained
// SessionSummary per session, kept consistent under concurrent writers.
package repository

import (
	"context"
	"errors"
	"time"

	"codescope/backend/internal/usage/domain"
)

var (
	// ErrNotFound is returned by single-entity lookups when the entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write still hit a serialization conflict after bounded retries.
	// It is retriable by the caller.
	ErrConflict = errors.New("storage conflict")
	// ErrInvalidEvent is returned for events that cannot be stored (nil, missing required ids).
	ErrInvalidEvent = errors.New("invalid event")
)

// Writer is the write side of the storage engine. Each Record* persists the raw event and applies
// its delta to the referenced session's summary in one transaction.
type Writer interface {
	RecordSession(ctx context.Context, ev domain.SessionEvent) error
	RecordMetricPoint(ctx context.Context, p *domain.MetricPoint) error
	RecordCost(ctx context.Context, c *domain.CostRecord) error
	RecordProductivityEvent(ctx context.Context, e *domain.ProductivityEvent) error
	RecordToolUsage(ctx context.Context, r *domain.ToolUsageRecord) error
}

// Reader is the range-query side used by the analytics engine.
type Reader interface {
	Sessions(ctx context.Context, f domain.Filter) ([]*domain.Session, error)
	MetricPoints(ctx context.Context, f domain.Filter) ([]*domain.MetricPoint, error)
	CostRecords(ctx context.Context, f domain.Filter) ([]*domain.CostRecord, error)
	ProductivityEvents(ctx context.Context, f domain.Filter) ([]*domain.ProductivityEvent, error)
	ToolUsage(ctx context.Context, f domain.Filter) ([]*domain.ToolUsageRecord, error)
}

// Repository is the full storage engine contract.
type Repository interface {
	Writer
	Reader

	// EndSession sets the session's end time if it is not already set.
	EndSession(ctx context.Context, sessionID string, at time.Time) error
	// GetSession returns the session by id. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// ListSessions returns one page of sessions and the total matching count.
	ListSessions(ctx context.Context, p domain.ListSessionsParams) ([]*domain.Session, int, error)
	// GetSummary returns the incrementally maintained summary. Returns ErrNotFound if the session is absent.
	GetSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	// RebuildSummary recomputes the summary by folding every raw event of the session and stores it.
	RebuildSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	// DeleteSession removes the session, its raw events and its summary. Returns ErrNotFound if absent.
	DeleteSession(ctx context.Context, sessionID string) error
	// CloseIdleSessions ends active sessions last seen before cutoff and returns how many were closed.
	CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	// Ping checks the database connection.
	Ping(ctx context.Context) error
}

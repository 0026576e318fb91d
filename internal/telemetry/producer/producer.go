// Package producer mirrors accepted, classified telemetry records to a message broker.
package producer

import (
	"context"

	"codescope/backend/internal/telemetry/domain"
)

// Producer publishes classified records. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Publish sends a single record. Implementations must not block ingestion for long.
	Publish(ctx context.Context, rec *domain.ClassifiedMetric) error
	// Close flushes pending messages and releases resources. Safe to call if already closed.
	Close() error
}

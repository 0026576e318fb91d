package telemetry

import (
	"context"
)

// RejectionEmitter reports rejected records (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type RejectionEmitter interface {
	Emit(ctx context.Context, signal string, rej Rejection) error
}

package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"codescope/backend/internal/telemetry"
)

// scopeName is the instrumentation scope of the rejection log records.
const scopeName = "codescope.ingest"

// recordEmitter is the part of otellog.Logger the emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewRejectionEmitter returns a RejectionEmitter that reports rejected records as OTel log records
// via the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewRejectionEmitter(provider *sdklog.LoggerProvider) telemetry.RejectionEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(scopeName)}
}

// NewRejectionEmitterWithLogger returns a RejectionEmitter writing to logger.
func NewRejectionEmitterWithLogger(logger recordEmitter) telemetry.RejectionEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, telemetry.Rejection) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the rejection to a WARN log record named ingest.rejected and emits it.
func (e *otelEmitter) Emit(ctx context.Context, signal string, rej telemetry.Rejection) error {
	rec := otellog.Record{}
	rec.SetTimestamp(time.Now().UTC())
	rec.SetEventName("ingest.rejected")
	rec.SetSeverity(otellog.SeverityWarn)
	rec.SetSeverityText("WARN")
	rec.SetBody(otellog.StringValue(rej.String()))
	rec.AddAttributes(
		otellog.String("signal", signal),
		otellog.Int("index", rej.Index),
		otellog.String("reason", rej.Reason),
		otellog.Bool("retriable", rej.Retriable),
	)
	if rej.Name != "" {
		rec.AddAttributes(otellog.String("name", rej.Name))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

package telemetry

import (
	"context"
	"time"

	"codescope/backend/internal/logging"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the listeners stop before shutting down OTel providers,
// so in-flight async rejection emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter may be nil; EmitAsync then returns immediately without starting a goroutine.
// The goroutine uses context.Background() with emitTimeout so request cancellation does not abort the emit.
func EmitAsync(emitter RejectionEmitter, log logging.Logger, signal string, rej Rejection) {
	if emitter == nil {
		return
	}
	log = logging.OrDiscard(log)
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, signal, rej); err != nil {
			log.WithError(err).Warn("telemetry: async rejection emit failed")
		}
	}()
}

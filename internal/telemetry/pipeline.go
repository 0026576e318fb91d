// Package telemetry runs decoded telemetry batches through classification into storage with
// bounded admission and per-record partial success.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
	"codescope/backend/internal/telemetry/classifier"
	"codescope/backend/internal/telemetry/decode"
	"codescope/backend/internal/telemetry/domain"
	"codescope/backend/internal/telemetry/producer"
	"codescope/backend/internal/usage/repository"
)

var (
	// ErrOverloaded rejects a record when the admission bound is reached. Retriable.
	ErrOverloaded = errors.New("ingest overloaded")
	// ErrClosed rejects a record after the pipeline started draining. Retriable.
	ErrClosed = errors.New("ingest pipeline closed")
)

// DefaultMaxInflight bounds concurrently admitted records when Options.MaxInflight is zero.
const DefaultMaxInflight = 256

// maxReportedRejections caps how many rejection descriptions go into an error message.
const maxReportedRejections = 10

// Rejection describes one record that was not stored.
type Rejection struct {
	Index     int    `json:"index"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason"`
	Retriable bool   `json:"retriable"`
	err       error
}

// NewRejection describes record index of the batch refused with err.
func NewRejection(index int, name string, err error) Rejection {
	return Rejection{
		Index:     index,
		Name:      name,
		Reason:    err.Error(),
		Retriable: retriable(err),
		err:       err,
	}
}

// Err returns the underlying error.
func (r Rejection) Err() error { return r.err }

func (r Rejection) String() string {
	if r.Name == "" {
		return fmt.Sprintf("record %d: %s", r.Index, r.Reason)
	}
	return fmt.Sprintf("record %d (%s): %s", r.Index, r.Name, r.Reason)
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Signal     domain.Signal
	Accepted   int
	Rejections []Rejection
}

// Rejected returns the number of rejected records.
func (r BatchResult) Rejected() int { return len(r.Rejections) }

// AllOverloaded reports whether the batch had records and every one was refused for overload.
func (r BatchResult) AllOverloaded() bool {
	if r.Accepted > 0 || len(r.Rejections) == 0 {
		return false
	}
	for _, rej := range r.Rejections {
		if !errors.Is(rej.err, ErrOverloaded) {
			return false
		}
	}
	return true
}

// ErrorMessage summarizes rejections for partial-success responses. Empty when nothing was rejected.
func (r BatchResult) ErrorMessage() string {
	if len(r.Rejections) == 0 {
		return ""
	}
	parts := make([]string, 0, maxReportedRejections+1)
	for i, rej := range r.Rejections {
		if i == maxReportedRejections {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Rejections)-i))
			break
		}
		parts = append(parts, rej.String())
	}
	return fmt.Sprintf("%d of %d records rejected: %s", len(r.Rejections), r.Accepted+len(r.Rejections), strings.Join(parts, "; "))
}

// Options configures a Pipeline. The zero value is usable.
type Options struct {
	MaxInflight int64
	Logger      logging.Logger
	Metrics     *metrics.Collector
	// Producer mirrors accepted records; nil disables mirroring.
	Producer producer.Producer
	// Emitter reports rejections; nil disables reporting.
	Emitter RejectionEmitter
}

// Pipeline classifies decoded records and writes each accepted one to storage exactly once.
type Pipeline struct {
	classifier *classifier.Classifier
	store      repository.Writer
	sem        *semaphore.Weighted
	log        logging.Logger
	metrics    *metrics.Collector
	producer   producer.Producer
	emitter    RejectionEmitter
	cumulative *cumulativeTracker

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewPipeline returns a Pipeline writing to store.
func NewPipeline(c *classifier.Classifier, store repository.Writer, opts Options) *Pipeline {
	bound := opts.MaxInflight
	if bound <= 0 {
		bound = DefaultMaxInflight
	}
	return &Pipeline{
		classifier: c,
		store:      store,
		sem:        semaphore.NewWeighted(bound),
		log:        logging.OrDiscard(opts.Logger),
		metrics:    opts.Metrics,
		producer:   opts.Producer,
		emitter:    opts.Emitter,
		cumulative: newCumulativeTracker(time.Now),
	}
}

// Process handles one decoded batch. Invalid records are rejected up front; every valid record is
// admitted, classified and stored independently. Records are processed in batch order.
func (p *Pipeline) Process(ctx context.Context, b *decode.Batch) BatchResult {
	res := BatchResult{Signal: b.Signal}
	for _, verr := range b.Invalid {
		p.reject(&res, Rejection{Index: verr.Index, Name: verr.Name, Reason: verr.Reason, err: verr}, "validation")
	}
	for _, dp := range b.Points {
		if err := p.processOne(ctx, dp); err != nil {
			p.reject(&res, NewRejection(dp.Index, dp.Name, err), rejectionReason(err))
			continue
		}
		res.Accepted++
		p.metrics.IngestRecord(string(b.Signal), "accepted")
	}
	if len(res.Rejections) > 0 {
		p.log.WithFields(logging.Fields{
			"signal":   b.Signal,
			"accepted": res.Accepted,
			"rejected": len(res.Rejections),
		}).Info("telemetry: batch partially rejected")
	}
	return res
}

func (p *Pipeline) reject(res *BatchResult, rej Rejection, reason string) {
	res.Rejections = append(res.Rejections, rej)
	p.metrics.IngestRecord(string(res.Signal), "rejected")
	p.metrics.IngestRejection(reason)
	EmitAsync(p.emitter, p.log, string(res.Signal), rej)
}

// processOne admits, classifies and stores one record. Admission never blocks: when the bound is
// reached the record is refused with ErrOverloaded.
func (p *Pipeline) processOne(ctx context.Context, dp domain.DataPoint) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.inflight.Add(1)
	p.mu.RUnlock()
	defer p.inflight.Done()

	if !p.sem.TryAcquire(1) {
		return ErrOverloaded
	}
	defer p.sem.Release(1)
	p.metrics.InflightAdd(1)
	defer p.metrics.InflightAdd(-1)

	if dp.Cumulative {
		v, ok := p.cumulative.delta(dp)
		if !ok {
			p.log.WithField("name", dp.Name).Debug("telemetry: cumulative point adds nothing")
			return nil
		}
		dp.Value = v
	}
	cm := p.classifier.Classify(dp)
	// An admitted record is finished even if the caller goes away.
	writeCtx := context.WithoutCancel(ctx)
	if err := p.route(writeCtx, &cm); err != nil {
		return err
	}
	if p.producer != nil {
		if err := p.producer.Publish(writeCtx, &cm); err != nil {
			p.log.WithError(err).WithField("name", cm.Name).Warn("telemetry: mirror publish failed")
		}
	}
	return nil
}

// Close stops admitting records and waits for in-flight writes, or for ctx to end.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain ingest pipeline: %w", ctx.Err())
	}
}

func retriable(err error) bool {
	return !errors.Is(err, repository.ErrInvalidEvent) && !errors.Is(err, decode.ErrInvalidRecord)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	case errors.Is(err, repository.ErrInvalidEvent):
		return "validation"
	}
	return "storage"
}

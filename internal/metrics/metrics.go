// Package metrics holds the Prometheus collectors for ingestion, storage and the query API.
// Every method is safe on a nil *Collector so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages Prometheus metrics for the service on its own registry.
type Collector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	grpcRequestsTotal   *prometheus.CounterVec
	grpcRequestDuration *prometheus.HistogramVec

	ingestRecords    *prometheus.CounterVec
	ingestRejections *prometheus.CounterVec
	ingestInflight   prometheus.Gauge
	classified       *prometheus.CounterVec

	storageWrites        *prometheus.CounterVec
	storageWriteDuration *prometheus.HistogramVec
	storageRetries       prometheus.Counter
	sessionsReaped       prometheus.Counter
}

// NewCollector creates the collectors for serviceName and registers them, plus the Go and process
// collectors, on a fresh registry.
func NewCollector(serviceName string) *Collector {
	name := strings.ReplaceAll(serviceName, "-", "_")
	c := &Collector{serviceName: name, registry: prometheus.NewRegistry()}

	c.httpRequestsTotal = c.counterVec("http_requests_total", "Total number of HTTP requests", "method", "endpoint", "status")
	c.httpRequestDuration = c.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "endpoint")

	c.grpcRequestsTotal = c.counterVec("grpc_requests_total", "Total number of gRPC requests", "method", "code")
	c.grpcRequestDuration = c.histogramVec("grpc_request_duration_seconds", "gRPC request duration in seconds", prometheus.DefBuckets, "method")

	c.ingestRecords = c.counterVec("ingest_records_total", "Telemetry records received, by signal and outcome", "signal", "outcome")
	c.ingestRejections = c.counterVec("ingest_rejections_total", "Telemetry records rejected, by reason", "reason")
	c.ingestInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + "_ingest_inflight_records",
		Help: "Records currently admitted to the storage engine",
	})
	c.registry.MustRegister(c.ingestInflight)
	c.classified = c.counterVec("classified_records_total", "Records classified, by category", "category")

	c.storageWrites = c.counterVec("storage_writes_total", "Storage writes, by event kind and result", "kind", "result")
	c.storageWriteDuration = c.histogramVec("storage_write_duration_seconds", "Storage write duration in seconds",
		[]float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}, "kind")
	c.storageRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_storage_conflict_retries_total",
		Help: "Storage transactions retried after a serialization conflict",
	})
	c.sessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_sessions_reaped_total",
		Help: "Sessions closed by the idle reaper",
	})
	c.registry.MustRegister(c.storageRetries, c.sessionsReaped)
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return c
}

func (c *Collector) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.serviceName + "_" + name, Help: help}, labels)
	c.registry.MustRegister(v)
	return v
}

func (c *Collector) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: c.serviceName + "_" + name, Help: help, Buckets: buckets}, labels)
	c.registry.MustRegister(v)
	return v
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// IngestRecord counts one received record for signal with outcome "accepted" or "rejected".
func (c *Collector) IngestRecord(signal, outcome string) {
	if c == nil {
		return
	}
	c.ingestRecords.WithLabelValues(signal, outcome).Inc()
}

// IngestRejection counts one rejection for reason (validation, overloaded, storage, conflict).
func (c *Collector) IngestRejection(reason string) {
	if c == nil {
		return
	}
	c.ingestRejections.WithLabelValues(reason).Inc()
}

// InflightAdd adjusts the admitted-records gauge.
func (c *Collector) InflightAdd(n float64) {
	if c == nil {
		return
	}
	c.ingestInflight.Add(n)
}

// Classified counts one classified record.
func (c *Collector) Classified(category string) {
	if c == nil {
		return
	}
	c.classified.WithLabelValues(category).Inc()
}

// StorageWrite records a storage write of kind with its duration and error result.
func (c *Collector) StorageWrite(kind string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.storageWrites.WithLabelValues(kind, result).Inc()
	c.storageWriteDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// StorageRetry counts one conflict retry.
func (c *Collector) StorageRetry() {
	if c == nil {
		return
	}
	c.storageRetries.Inc()
}

// SessionsReaped counts sessions closed by the idle reaper.
func (c *Collector) SessionsReaped(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.sessionsReaped.Add(float64(n))
}

// GRPCRequest records one finished gRPC call.
func (c *Collector) GRPCRequest(method, code string, d time.Duration) {
	if c == nil {
		return
	}
	c.grpcRequestsTotal.WithLabelValues(method, code).Inc()
	c.grpcRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// MetricsMiddleware returns middleware that collects HTTP metrics
func (c *Collector) MetricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(ctx.Writer.Status())
		c.httpRequestsTotal.WithLabelValues(ctx.Request.Method, endpoint, status).Inc()
		c.httpRequestDuration.WithLabelValues(ctx.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.IngestRecord("metrics", "accepted")
	c.IngestRejection("validation")
	c.InflightAdd(1)
	c.Classified("cost")
	c.StorageWrite("cost", time.Millisecond, nil)
	c.StorageRetry()
	c.SessionsReaped(3)
	c.GRPCRequest("/svc/M", "OK", time.Millisecond)
	if c.Registry() != nil {
		t.Error("nil collector should have nil registry")
	}
	if c.Handler() == nil {
		t.Error("nil collector Handler should fall back to the default handler")
	}
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("code-scope")
	c.IngestRecord("metrics", "accepted")
	c.IngestRecord("metrics", "accepted")
	c.IngestRejection("overloaded")
	c.StorageWrite("cost", time.Millisecond, errors.New("boom"))
	c.StorageRetry()
	c.GRPCRequest("/opentelemetry.proto.collector.metrics.v1.MetricsService/Export", "OK", time.Millisecond)

	if got := testutil.ToFloat64(c.ingestRecords.WithLabelValues("metrics", "accepted")); got != 2 {
		t.Errorf("ingest accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ingestRejections.WithLabelValues("overloaded")); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.storageWrites.WithLabelValues("cost", "error")); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.storageRetries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.grpcRequestsTotal.WithLabelValues("/opentelemetry.proto.collector.metrics.v1.MetricsService/Export", "OK")); got != 1 {
		t.Errorf("grpc requests = %v, want 1", got)
	}
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewCollector("code-scope")
	r := gin.New()
	r.Use(c.MetricsMiddleware())
	r.GET("/ping", func(ctx *gin.Context) { ctx.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(c.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `code_scope_http_requests_total{endpoint="/ping",method="GET",status="200"} 1`) {
		t.Errorf("metrics output missing ping counter:\n%s", body)
	}
}

package handler

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/security"
	"codescope/backend/internal/server/interceptors"
	"codescope/backend/internal/telemetry"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"

	// maxBodyBytes bounds one OTLP/HTTP request body after decompression.
	maxBodyBytes = 8 << 20
)

// HTTP serves OTLP/HTTP export requests on gin.
type HTTP struct {
	metrics *MetricsServer
	logs    *LogsServer
	traces  *TraceServer
	log     logging.Logger
}

// NewHTTP returns OTLP/HTTP handlers backed by ing.
func NewHTTP(ing Ingester, log logging.Logger) *HTTP {
	return &HTTP{
		metrics: NewMetricsServer(ing),
		logs:    NewLogsServer(ing),
		traces:  NewTraceServer(ing),
		log:     logging.OrDiscard(log),
	}
}

// RegisterRoutes mounts POST /v1/metrics, /v1/logs and /v1/traces. When verifier is non-nil the
// routes require a Bearer token.
func (h *HTTP) RegisterRoutes(r gin.IRouter, verifier *security.TokenProvider) {
	g := r.Group("/v1")
	if verifier != nil {
		g.Use(BearerAuth(verifier))
	}
	g.POST("/metrics", h.exportMetrics)
	g.POST("/logs", h.exportLogs)
	g.POST("/traces", h.exportTraces)
}

// BearerAuth validates the ingest Bearer token and stores its claims in the request context.
func BearerAuth(verifier *security.TokenProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := interceptors.ParseBearer(c.GetHeader("Authorization"))
		if token == "" {
			writeStatus(c, responseType(c), http.StatusUnauthorized, codes.Unauthenticated, "missing or invalid authorization")
			return
		}
		subject, orgID, err := verifier.Validate(token)
		if err != nil {
			writeStatus(c, responseType(c), http.StatusUnauthorized, codes.Unauthenticated, "missing or invalid authorization")
			return
		}
		c.Request = c.Request.WithContext(interceptors.WithIdentity(c.Request.Context(), subject, orgID))
		c.Next()
	}
}

func (h *HTTP) exportMetrics(c *gin.Context) {
	req := &colmetricspb.ExportMetricsServiceRequest{}
	h.export(c, req, func(ctx context.Context) (proto.Message, telemetry.BatchResult) {
		return h.metrics.ingest(ctx, req)
	})
}

func (h *HTTP) exportLogs(c *gin.Context) {
	req := &collogspb.ExportLogsServiceRequest{}
	h.export(c, req, func(ctx context.Context) (proto.Message, telemetry.BatchResult) {
		return h.logs.ingest(ctx, req)
	})
}

func (h *HTTP) exportTraces(c *gin.Context) {
	req := &coltracepb.ExportTraceServiceRequest{}
	h.export(c, req, func(ctx context.Context) (proto.Message, telemetry.BatchResult) {
		return h.traces.ingest(ctx, req)
	})
}

// export decodes the body into req, runs ingest and writes the response in the request's encoding.
func (h *HTTP) export(c *gin.Context, req proto.Message, ingest func(ctx context.Context) (proto.Message, telemetry.BatchResult)) {
	ct := contentTypeOf(c)
	if ct == "" {
		writeStatus(c, contentTypeProtobuf, http.StatusUnsupportedMediaType, codes.InvalidArgument, "unsupported content type")
		return
	}
	body, err := readBody(c)
	if err != nil {
		writeStatus(c, ct, http.StatusBadRequest, codes.InvalidArgument, err.Error())
		return
	}
	if ct == contentTypeJSON {
		err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(body, req)
	} else {
		err = proto.Unmarshal(body, req)
	}
	if err != nil {
		writeStatus(c, ct, http.StatusBadRequest, codes.InvalidArgument, "malformed export request: "+err.Error())
		return
	}

	resp, res := ingest(c.Request.Context())
	c.Header(AcceptedHeader, strconv.Itoa(res.Accepted))
	if res.AllOverloaded() {
		h.log.WithField("path", c.FullPath()).WithField("rejected", res.Rejected()).Warn("otlp/http: batch refused, pipeline overloaded")
		c.Header("Retry-After", "1")
		writeStatus(c, ct, http.StatusTooManyRequests, codes.ResourceExhausted, res.ErrorMessage())
		return
	}
	writeMessage(c, ct, http.StatusOK, resp)
}

func contentTypeOf(c *gin.Context) string {
	mt, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil {
		return ""
	}
	switch mt {
	case contentTypeProtobuf, contentTypeJSON:
		return mt
	}
	return ""
}

// responseType answers in the request's encoding, or protobuf when it is unsupported.
func responseType(c *gin.Context) string {
	if ct := contentTypeOf(c); ct != "" {
		return ct
	}
	return contentTypeProtobuf
}

func readBody(c *gin.Context) ([]byte, error) {
	var r io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gz.Close()
		r = io.LimitReader(gz, maxBodyBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func writeMessage(c *gin.Context, ct string, code int, m proto.Message) {
	var (
		out []byte
		err error
	)
	if ct == contentTypeJSON {
		out, err = protojson.Marshal(m)
	} else {
		out, err = proto.Marshal(m)
	}
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(code, ct, out)
	c.Abort()
}

func writeStatus(c *gin.Context, ct string, httpCode int, code codes.Code, msg string) {
	writeMessage(c, ct, httpCode, status.New(code, msg).Proto())
}

var _ Ingester = (*telemetry.Pipeline)(nil)

// Package handler exposes the ingest pipeline as the OTLP collector services, over gRPC and over
// OTLP/HTTP.
package handler

import (
	"context"
	"strconv"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"codescope/backend/internal/server/interceptors"
	"codescope/backend/internal/telemetry"
	"codescope/backend/internal/telemetry/decode"
)

// AcceptedHeader carries the accepted record count on gRPC and HTTP responses.
const AcceptedHeader = "x-codescope-accepted"

// Ingester processes one decoded batch. *telemetry.Pipeline implements it.
type Ingester interface {
	Process(ctx context.Context, b *decode.Batch) telemetry.BatchResult
}

// MetricsServer implements the OTLP MetricsService.
type MetricsServer struct {
	colmetricspb.UnimplementedMetricsServiceServer
	ingester Ingester
}

// LogsServer implements the OTLP LogsService.
type LogsServer struct {
	collogspb.UnimplementedLogsServiceServer
	ingester Ingester
}

// TraceServer implements the OTLP TraceService.
type TraceServer struct {
	coltracepb.UnimplementedTraceServiceServer
	ingester Ingester
}

// NewMetricsServer returns the OTLP metrics service backed by ing.
func NewMetricsServer(ing Ingester) *MetricsServer { return &MetricsServer{ingester: ing} }

// NewLogsServer returns the OTLP logs service backed by ing.
func NewLogsServer(ing Ingester) *LogsServer { return &LogsServer{ingester: ing} }

// NewTraceServer returns the OTLP trace service backed by ing.
func NewTraceServer(ing Ingester) *TraceServer { return &TraceServer{ingester: ing} }

// Register registers the three OTLP collector services on s.
func Register(s grpc.ServiceRegistrar, ing Ingester) {
	colmetricspb.RegisterMetricsServiceServer(s, NewMetricsServer(ing))
	collogspb.RegisterLogsServiceServer(s, NewLogsServer(ing))
	coltracepb.RegisterTraceServiceServer(s, NewTraceServer(ing))
}

// Export ingests a metrics batch. Rejected records are reported through PartialSuccess.
func (s *MetricsServer) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	resp, res := s.ingest(ctx, req)
	if err := finish(ctx, res); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *MetricsServer) ingest(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, telemetry.BatchResult) {
	if org, ok := interceptors.GetOrgID(ctx); ok {
		InjectMetricsOrg(req, org)
	}
	res := s.ingester.Process(ctx, decode.Metrics(req))
	resp := &colmetricspb.ExportMetricsServiceResponse{}
	if res.Rejected() > 0 {
		resp.PartialSuccess = &colmetricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: int64(res.Rejected()),
			ErrorMessage:       res.ErrorMessage(),
		}
	}
	return resp, res
}

// Export ingests a logs batch. Rejected records are reported through PartialSuccess.
func (s *LogsServer) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	resp, res := s.ingest(ctx, req)
	if err := finish(ctx, res); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *LogsServer) ingest(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, telemetry.BatchResult) {
	if org, ok := interceptors.GetOrgID(ctx); ok {
		InjectLogsOrg(req, org)
	}
	res := s.ingester.Process(ctx, decode.Logs(req))
	resp := &collogspb.ExportLogsServiceResponse{}
	if res.Rejected() > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: int64(res.Rejected()),
			ErrorMessage:       res.ErrorMessage(),
		}
	}
	return resp, res
}

// Export ingests a trace batch. Rejected spans are reported through PartialSuccess.
func (s *TraceServer) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	resp, res := s.ingest(ctx, req)
	if err := finish(ctx, res); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *TraceServer) ingest(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, telemetry.BatchResult) {
	if org, ok := interceptors.GetOrgID(ctx); ok {
		InjectTraceOrg(req, org)
	}
	res := s.ingester.Process(ctx, decode.Traces(req))
	resp := &coltracepb.ExportTraceServiceResponse{}
	if res.Rejected() > 0 {
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: int64(res.Rejected()),
			ErrorMessage:  res.ErrorMessage(),
		}
	}
	return resp, res
}

// finish sets the accepted-count header. A batch refused entirely for overload fails with
// ResourceExhausted so OTLP exporters back off and retry.
func finish(ctx context.Context, res telemetry.BatchResult) error {
	// SetHeader fails outside a real RPC (direct calls in tests); the header is informational.
	_ = grpc.SetHeader(ctx, metadata.Pairs(AcceptedHeader, strconv.Itoa(res.Accepted)))
	if res.AllOverloaded() {
		return status.Error(codes.ResourceExhausted, res.ErrorMessage())
	}
	return nil
}

// Package handler serves liveness and readiness: the standard grpc.health.v1 service on the
// ingestion listener and a readiness probe shared with the query API.
package handler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ErrDraining is returned by Ready once shutdown has begun.
var ErrDraining = errors.New("server is draining")

// pingTimeout bounds the database ping done for each readiness check.
const pingTimeout = 2 * time.Second

// Services answered by Check in addition to the overall "" service.
var Services = []string{
	"opentelemetry.proto.collector.metrics.v1.MetricsService",
	"opentelemetry.proto.collector.logs.v1.LogsService",
	"opentelemetry.proto.collector.trace.v1.TraceService",
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server implements grpc.health.v1.Health. Watch and List are left unimplemented.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger   Pinger
	draining atomic.Bool
}

// NewServer returns a health server. A nil pinger skips the database check.
func NewServer(p Pinger) *Server {
	return &Server{pinger: p}
}

// SetDraining marks the process as shutting down; every later check reports NOT_SERVING.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// Ready reports nil when the process accepts traffic and the database answers a ping.
func (s *Server) Ready(ctx context.Context) error {
	if s.draining.Load() {
		return ErrDraining
	}
	if s.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.pinger.PingContext(ctx)
}

// Check returns SERVING or NOT_SERVING for the overall server or one of the OTLP services.
// Readiness failures are reported in the status, never as a gRPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && !known(svc) {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.Ready(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func known(svc string) bool {
	for _, s := range Services {
		if s == svc {
			return true
		}
	}
	return false
}

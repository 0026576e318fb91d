package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "codescope/backend/internal/health/handler"
	telemetryhandler "codescope/backend/internal/telemetry/handler"
)

// HealthMethod is the unauthenticated health check RPC.
const HealthMethod = "/grpc.health.v1.Health/Check"

// Deps holds service dependencies for gRPC handlers.
type Deps struct {
	// Ingester receives decoded OTLP batches. If nil, the OTLP services are not registered.
	Ingester telemetryhandler.Ingester
	// Health answers grpc.health.v1. If nil, a server without a database check is used.
	Health *healthhandler.Server
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - opentelemetry MetricsService, LogsService, TraceService → internal/telemetry/handler
//   - grpc.health.v1.Health                                   → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Ingester != nil {
		telemetryhandler.Register(s, deps.Ingester)
	}
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil)
	}
	healthpb.RegisterHealthServer(s, health)
}

// PublicMethods lists the RPCs that skip ingest authentication.
func PublicMethods() map[string]bool {
	return map[string]bool{HealthMethod: true}
}

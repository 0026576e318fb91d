package server

import (
	"context"
	"slices"
	"testing"

	"google.golang.org/grpc"

	"codescope/backend/internal/telemetry"
	"codescope/backend/internal/telemetry/decode"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

type nopIngester struct{}

func (nopIngester) Process(context.Context, *decode.Batch) telemetry.BatchResult {
	return telemetry.BatchResult{}
}

func TestRegisterServices_AllServicesRegistered(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{Ingester: nopIngester{}})

	want := []string{
		"opentelemetry.proto.collector.metrics.v1.MetricsService",
		"opentelemetry.proto.collector.logs.v1.LogsService",
		"opentelemetry.proto.collector.trace.v1.TraceService",
		"grpc.health.v1.Health",
	}
	if !slices.Equal(mockReg.services, want) {
		t.Errorf("registered %v, want %v", mockReg.services, want)
	}
}

func TestRegisterServices_NilDependencies(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})

	if len(mockReg.services) != 1 || mockReg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("registered %v, want only the health service", mockReg.services)
	}
}

func TestPublicMethods(t *testing.T) {
	pm := PublicMethods()
	if !pm[HealthMethod] {
		t.Error("health check must be public")
	}
	if pm["/opentelemetry.proto.collector.metrics.v1.MetricsService/Export"] {
		t.Error("export must require auth")
	}
}

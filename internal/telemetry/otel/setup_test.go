package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "test-service"}, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("providers not all created: %+v", providers)
		}
		if providers.Enabled() {
			t.Error("providers without endpoint should not be exporting")
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	testCases := []struct {
		name         string
		endpoint     string
		override     bool
		wantTarget   string
		wantInsecure bool
		wantErr      bool
	}{
		{"without protocol", "localhost:4317", false, "localhost:4317", true, false},
		{"http", "http://collector:4317", false, "collector:4317", true, false},
		{"https", "https://collector:4317", false, "collector:4317", false, false},
		{"https with override", "https://collector:4317", true, "collector:4317", true, false},
		{"path dropped", "http://collector:4317/v1/traces", false, "collector:4317", true, false},
		{"query dropped", "http://collector:4317?x=1", false, "collector:4317", true, false},
		{"missing host", "http://", false, "", false, true},
		{"invalid url", "://invalid", false, "", false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, insecure, err := parseEndpoint(tc.endpoint, tc.override)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.endpoint)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEndpoint(%q): %v", tc.endpoint, err)
			}
			if target != tc.wantTarget || insecure != tc.wantInsecure {
				t.Errorf("parseEndpoint(%q) = %q, %v; want %q, %v", tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
			}
		})
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), Config{Endpoint: "http://"}, nil); err == nil {
		t.Error("expected error for endpoint without host")
	}
}

func TestNewProviders_Exporting(t *testing.T) {
	// Exporters dial lazily, so construction succeeds without a collector.
	ctx := context.Background()
	providers, err := NewProviders(ctx, Config{
		Endpoint:       "localhost:4317",
		ServiceName:    "test-service",
		MetricInterval: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if !providers.Enabled() {
		t.Error("providers with an endpoint should be exporting")
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	// Flushing to a missing collector may fail; shutdown must still return.
	_ = providers.Shutdown(shutdownCtx)
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), Config{ServiceName: "test-service"}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("global TracerProvider not set")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("global MeterProvider not set")
	}

	// Nil fields are skipped.
	(&Providers{}).SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("SetGlobal with nil providers should leave globals untouched")
	}
}

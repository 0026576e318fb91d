package interceptors

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"codescope/backend/internal/metrics"
)

func TestLoggingUnary(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	interceptor := LoggingUnary(logger, metrics.NewCollector("test"), map[string]bool{"/grpc.health.v1.Health/Check": true})

	ctx := WithIdentity(context.Background(), "laptop", "org-9")
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: exportMethod}, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel {
		t.Fatalf("expected a debug entry, got %+v", entry)
	}
	if entry.Data["method"] != exportMethod || entry.Data["code"] != "OK" || entry.Data["org_id"] != "org-9" {
		t.Errorf("unexpected fields: %v", entry.Data)
	}

	failing := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.ResourceExhausted, "overloaded")
	}
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: exportMethod}, failing)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("error passed through = %v", err)
	}
	if entry := hook.LastEntry(); entry.Level != logrus.WarnLevel {
		t.Errorf("level = %v, want warn", entry.Level)
	}

	hook.Reset()
	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("skipped method logged %d entries", len(hook.AllEntries()))
	}
}

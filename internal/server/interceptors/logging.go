package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
)

// LoggingUnary returns a unary server interceptor that logs and counts each finished RPC.
// skipMethods is the set of full method names to not log (e.g. the health check); they are
// still counted. Failed calls log at warn, server-side failures at error.
func LoggingUnary(log logging.Logger, m *metrics.Collector, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	log = logging.OrDiscard(log)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)
		m.GRPCRequest(info.FullMethod, code.String(), elapsed)
		if skipMethods[info.FullMethod] {
			return resp, err
		}

		entry := log.WithFields(logging.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": elapsed.Milliseconds(),
			"client_ip":   ClientIP(ctx),
		})
		if org, ok := GetOrgID(ctx); ok && org != "" {
			entry = entry.WithField("org_id", org)
		}
		switch code {
		case codes.OK:
			entry.Debug("grpc request")
		case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
			entry.WithError(err).Error("grpc request failed")
		default:
			entry.WithError(err).Warn("grpc request failed")
		}
		return resp, err
	}
}

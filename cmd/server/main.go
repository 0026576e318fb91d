// Server runs the OTLP ingestion listener (gRPC) and the query API plus OTLP/HTTP (gin) over one
// usage store. Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"codescope/backend/internal/analytics"
	"codescope/backend/internal/analytics/cache"
	"codescope/backend/internal/api"
	"codescope/backend/internal/config"
	"codescope/backend/internal/db"
	"codescope/backend/internal/db/migrate"
	healthhandler "codescope/backend/internal/health/handler"
	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
	"codescope/backend/internal/security"
	"codescope/backend/internal/server"
	"codescope/backend/internal/server/interceptors"
	"codescope/backend/internal/telemetry"
	"codescope/backend/internal/telemetry/classifier"
	telemetryhandler "codescope/backend/internal/telemetry/handler"
	telemetryotel "codescope/backend/internal/telemetry/otel"
	"codescope/backend/internal/telemetry/producer"
	"codescope/backend/internal/usage/repository"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("info").WithError(err).Fatal("config")
	}
	log := logging.NewLoggerWithService(cfg.OTelServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	}, log)
	if err != nil {
		return err
	}
	providers.SetGlobal()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if cfg.AutoMigrate {
		if err := migrate.RunWithDB(conn, "up"); err != nil {
			return err
		}
		log.WithField("dialect", conn.Dialect).Info("migrations applied")
	}

	m := metrics.NewCollector(cfg.OTelServiceName)
	store := repository.New(conn, repository.Options{
		MaxRetries: cfg.StorageMaxRetries,
		Logger:     log,
		Metrics:    m,
	})

	var mirror producer.Producer
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.TelemetryKafkaTopic, log); kp != nil {
		mirror = kp
		defer kp.Close()
		log.WithField("topic", cfg.TelemetryKafkaTopic).Info("kafka mirror enabled")
	}
	var emitter telemetry.RejectionEmitter
	if providers.Enabled() {
		emitter = telemetryotel.NewRejectionEmitter(providers.LoggerProvider)
	}
	pipeline := telemetry.NewPipeline(classifier.New(log, m), store, telemetry.Options{
		MaxInflight: int64(cfg.IngestMaxInflight),
		Logger:      log,
		Metrics:     m,
		Producer:    mirror,
		Emitter:     emitter,
	})

	engineOpts := analytics.Options{
		Location:         cfg.Location(),
		MonthlyBudgetUSD: cfg.MonthlyBudgetUSD,
		Logger:           log,
	}
	if cfg.RedisURL != "" {
		rc, err := cache.Open(ctx, cfg.RedisURL, cfg.AnalyticsCacheTTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		engineOpts.Cache = rc
		log.WithField("ttl", cfg.AnalyticsCacheTTL).Info("analytics cache enabled")
	}
	engine := analytics.New(store, engineOpts)

	verifier, err := security.LoadVerifier(cfg.IngestJWTPublicKey, cfg.IngestJWTIssuer, cfg.IngestJWTAudience)
	if err != nil {
		return err
	}
	if verifier == nil {
		log.Warn("INGEST_JWT_PUBLIC_KEY not set; ingestion is unauthenticated")
	}
	health := healthhandler.NewServer(conn.DB)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(log, m, server.PublicMethods()),
			interceptors.AuthUnary(verifier, server.PublicMethods()),
		),
	)
	server.RegisterServices(grpcServer, server.Deps{Ingester: pipeline, Health: health})

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Analytics:   engine,
			Sessions:    store,
			Health:      health,
			Metrics:     m,
			OTLP:        telemetryhandler.NewHTTP(pipeline, log),
			Verifier:    verifier,
			Logger:      log,
			CORSOrigins: cfg.CORSOriginList(),
			ServiceName: cfg.OTelServiceName,
			Version:     version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC ingestion listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.SessionIdleTimeout > 0 {
		g.Go(func() error {
			reapIdleSessions(gctx, store, cfg.SessionIdleTimeout, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(cfg.ShutdownTimeout, log, health, grpcServer, httpServer, pipeline, providers)
	})
	return g.Wait()
}

// reapIdleSessions ends sessions idle for longer than timeout, checking every timeout/4 (at least a minute).
func reapIdleSessions(ctx context.Context, store *repository.Store, timeout time.Duration, log logging.Logger) {
	interval := max(timeout/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.CloseIdleSessions(ctx, now.Add(-timeout))
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("session reaper failed")
				}
				continue
			}
			if n > 0 {
				log.WithField("sessions", n).Info("closed idle sessions")
			}
		}
	}
}

// shutdown drains in dependency order: readiness first, then the listeners, then in-flight writes,
// then the self-telemetry providers.
func shutdown(timeout time.Duration, log logging.Logger, health *healthhandler.Server, gs *grpc.Server,
	hs *http.Server, pipeline *telemetry.Pipeline, providers *telemetryotel.Providers) error {
	log.Info("shutting down")
	health.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	var errs []error
	if err := hs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		gs.Stop()
	}
	if err := pipeline.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	// Let async rejection emits finish before the log provider goes away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

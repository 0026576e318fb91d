package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"codescope/backend/internal/analytics"
	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
	"codescope/backend/internal/security"
	telemetryhandler "codescope/backend/internal/telemetry/handler"
	"codescope/backend/internal/usage/domain"
)

// SessionStore is the part of the usage store the session endpoints need.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, p domain.ListSessionsParams) ([]*domain.Session, int, error)
	GetSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	RebuildSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	MetricPoints(ctx context.Context, f domain.Filter) ([]*domain.MetricPoint, error)
}

// Readiness reports whether the service can serve traffic. *healthhandler.Server implements it.
type Readiness interface {
	Ready(ctx context.Context) error
}

// Deps are the router's collaborators. OTLP, Verifier, Metrics and Health are optional.
type Deps struct {
	Analytics *analytics.Engine
	Sessions  SessionStore
	Health    Readiness
	Metrics   *metrics.Collector
	// OTLP mounts the OTLP/HTTP receiver under /v1 when set.
	OTLP *telemetryhandler.HTTP
	// Verifier guards the OTLP/HTTP routes when set.
	Verifier    *security.TokenProvider
	Logger      logging.Logger
	CORSOrigins []string
	ServiceName string
	Version     string
}

type handlers struct {
	engine   *analytics.Engine
	sessions SessionStore
	health   Readiness
	log      logging.Logger
	version  string
}

// NewRouter builds the HTTP router: middleware, /api routes, /metrics and the optional OTLP/HTTP routes.
func NewRouter(d Deps) *gin.Engine {
	log := logging.OrDiscard(d.Logger)
	h := &handlers{engine: d.Analytics, sessions: d.Sessions, health: d.Health, log: log, version: d.Version}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logging(log))
	r.Use(Recovery(log))
	r.Use(CORS(d.CORSOrigins))
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(d.Metrics.MetricsMiddleware())

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	if d.OTLP != nil {
		d.OTLP.RegisterRoutes(r, d.Verifier)
	}

	api := r.Group("/api")
	api.GET("/health", h.getHealth)

	m := api.Group("/metrics")
	m.GET("/overview", serve(h, "24h", h.engine.Overview))
	m.GET("/timeline", h.getTimeline)

	s := api.Group("/sessions")
	s.GET("", h.listSessions)
	s.GET("/:id", h.getSession)
	s.GET("/:id/summary", h.getSummary)
	s.GET("/:id/metrics", h.getSessionMetrics)
	s.POST("/:id/rebuild", h.rebuildSummary)
	s.DELETE("/:id", h.deleteSession)

	a := api.Group("/analytics")
	a.GET("/productivity", serve(h, "24h", h.engine.Productivity))
	a.GET("/costs", serve(h, "24h", h.engine.Costs))
	a.GET("/efficiency", serve(h, "24h", h.engine.Efficiency))
	a.GET("/trends", serve(h, "30d", h.engine.Trends))
	a.GET("/dashboard/kpis", serve(h, "24h", h.engine.KPIs))
	a.GET("/dashboard/token-trend", serve(h, "24h", h.engine.TokenTrend))
	a.GET("/dashboard/tool-usage", serve(h, "24h", h.engine.ToolUsage))
	a.GET("/dashboard/usage-heatmap", serve(h, "7d", h.engine.UsageHeatmap))
	a.GET("/advanced/model-costs", serve(h, "30d", h.engine.ModelCosts))
	a.GET("/advanced/budget-progress", serve(h, "24h", h.engine.BudgetProgress))
	a.GET("/advanced/session-duration", serve(h, "7d", h.engine.SessionDuration))

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})
	return r
}

// serve adapts an analytics operation to a handler. defRange applies when the request names no range.
func serve[T any](h *handlers, defRange string, op func(context.Context, analytics.Query) (*T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := parseQuery(c, analytics.ResolveRange, defRange, h.engine.Now())
		if err != nil {
			h.failErr(c, err)
			return
		}
		v, err := op(c.Request.Context(), q)
		if err != nil {
			h.failErr(c, err)
			return
		}
		ok(c, v)
	}
}

func (h *handlers) getTimeline(c *gin.Context) {
	q, err := parseQuery(c, analytics.ResolveTimelineRange, "24h", h.engine.Now())
	if err != nil {
		h.failErr(c, err)
		return
	}
	tl, err := h.engine.Timeline(c.Request.Context(), q, c.Query("metric_name"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, tl)
}

type healthStatus struct {
	Status  string    `json:"status"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"timestamp"`
}

func (h *handlers) getHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ready(c.Request.Context()); err != nil {
			h.log.WithError(err).Warn("api: health check failed")
			fail(c, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
			return
		}
	}
	ok(c, healthStatus{Status: "healthy", Version: h.version, Time: time.Now().UTC()})
}

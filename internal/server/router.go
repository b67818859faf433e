package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"easybaby/backend/internal/audit"
	healthhandler "easybaby/backend/internal/health/handler"
	identityhandler "easybaby/backend/internal/identity/handler"
	"easybaby/backend/internal/server/middleware"
	sessionhandler "easybaby/backend/internal/session/handler"
	"easybaby/backend/internal/telemetry"
)

// Deps holds the services behind the HTTP API.
type Deps struct {
	// Auth serves /v1/auth. Required.
	Auth identityhandler.AuthService
	// Sessions serves /v1/sessions. Required.
	Sessions sessionhandler.Sessions
	// Tokens validates Bearer access tokens. Required.
	Tokens middleware.AccessValidator
	// Health serves /healthz and /readyz. If nil, both answer 200 with no checks.
	Health *healthhandler.Handler
	// AuditLogger records session revocations. Optional.
	AuditLogger audit.AuditLogger
	// Metrics records request metrics. Optional.
	Metrics *telemetry.Metrics
	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer
	// Tracer is used for request spans. If nil, the global provider is used.
	Tracer trace.Tracer
	Logger *zap.Logger
}

// NewRouter builds the gin engine with every route and middleware.
//
// Route → handler mapping:
//   - /v1/auth/*     → internal/identity/handler
//   - /v1/sessions*  → internal/session/handler
//   - /healthz, /readyz → internal/health/handler
//   - /metrics       → Prometheus
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Tracing(d.Tracer),
		middleware.Logging(logger),
		middleware.Metrics(d.Metrics),
		middleware.Client(),
	)

	health := d.Health
	if health == nil {
		health = healthhandler.NewHandler(nil, nil, nil, logger)
	}
	health.Routes(r)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(telemetry.Handler(d.Gatherer)))
	}

	requireAuth := middleware.Auth(d.Tokens, logger)
	v1 := r.Group("/v1")
	identityhandler.NewHandler(d.Auth, logger).Routes(v1, requireAuth)
	sessionhandler.NewHandler(d.Sessions, d.AuditLogger, logger).Routes(v1, requireAuth)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

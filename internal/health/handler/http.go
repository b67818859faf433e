package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultCheckTimeout bounds one readiness check.
const DefaultCheckTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves liveness and readiness. Readiness results are mirrored into the gRPC
// health server when one is set.
type Handler struct {
	pinger     Pinger
	policy     PolicyChecker
	grpcHealth *health.Server
	timeout    time.Duration
	logger     *zap.Logger
}

// NewHandler returns a Handler. Nil pinger or policy skips that check; nil grpcHealth skips mirroring.
func NewHandler(pinger Pinger, policy PolicyChecker, grpcHealth *health.Server, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pinger: pinger, policy: policy, grpcHealth: grpcHealth, timeout: DefaultCheckTimeout, logger: logger}
}

// Routes mounts GET /healthz and GET /readyz.
func (h *Handler) Routes(r gin.IRoutes) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live reports that the process is up.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every check and answers 503 if any failed.
func (h *Handler) Ready(c *gin.Context) {
	checks, ok := h.Check(c.Request.Context())
	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// Check runs the readiness checks, updates the gRPC serving status and returns per-check results.
func (h *Handler) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]string, 2)
	ok := true
	if h.pinger != nil {
		if err := h.pinger.PingContext(ctx); err != nil {
			h.logger.Warn("health: database ping failed", zap.Error(err))
			checks["database"] = "unavailable"
			ok = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.policy != nil {
		if err := h.policy.HealthCheck(ctx); err != nil {
			h.logger.Warn("health: policy check failed", zap.Error(err))
			checks["policy"] = "unavailable"
			ok = false
		} else {
			checks["policy"] = "ok"
		}
	}
	h.setServing(ok)
	return checks, ok
}

func (h *Handler) setServing(ok bool) {
	if h.grpcHealth == nil {
		return
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.grpcHealth.SetServingStatus("", st)
}

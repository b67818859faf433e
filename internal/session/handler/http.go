package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"easybaby/backend/internal/audit"
	auditdomain "easybaby/backend/internal/audit/domain"
	"easybaby/backend/internal/server/middleware"
	"easybaby/backend/internal/session/domain"
	"easybaby/backend/internal/session/service"
)

// Sessions is the subset of the session manager used by the handler.
type Sessions interface {
	ListSessions(ctx context.Context, subjectID string, q domain.ListQuery) (*domain.Page, error)
	RevokeForSubject(ctx context.Context, subjectID, id string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error)
}

// Handler serves the caller's own sessions under /v1/sessions. Every route requires auth.
type Handler struct {
	sessions    Sessions
	auditLogger audit.AuditLogger
	logger      *zap.Logger
}

// NewHandler returns a Handler. auditLogger may be nil.
func NewHandler(sessions Sessions, auditLogger audit.AuditLogger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, auditLogger: auditLogger, logger: logger.Named("session_handler")}
}

// Routes mounts the session endpoints on rg behind requireAuth.
func (h *Handler) Routes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	g := rg.Group("/sessions", requireAuth)
	g.GET("", h.List)
	g.DELETE("", h.RevokeAll)
	g.DELETE("/:id", h.Revoke)
}

type sessionResponse struct {
	ID         string     `json:"id"`
	FamilyID   string     `json:"family_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IPAddress  *string    `json:"ip_address"`
	UserAgent  *string    `json:"user_agent"`
	Current    bool       `json:"current"`
}

type pageResponse struct {
	Items []sessionResponse `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// List handles GET /v1/sessions?page=&limit=&ip_address=&user_agent=&family_id=&order_by=&order=.
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	q, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.sessions.ListSessions(ctx, userID, q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	current, _ := middleware.GetSessionID(ctx)
	out := pageResponse{Items: make([]sessionResponse, 0, len(page.Items)), Total: page.Total, Page: page.Page, Limit: page.Limit}
	for _, s := range page.Items {
		out.Items = append(out.Items, sessionResponse{
			ID:         s.ID,
			FamilyID:   s.FamilyID,
			CreatedAt:  s.IssuedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			Current:    s.ID == current,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Revoke handles DELETE /v1/sessions/:id. Revoking an already revoked session is a 204.
func (h *Handler) Revoke(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	id := c.Param("id")
	if err := h.sessions.RevokeForSubject(ctx, userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	if h.auditLogger != nil {
		h.auditLogger.LogEvent(ctx, userID, auditdomain.ActionSessionRevoked, auditdomain.ResourceSession, map[string]string{"session_id": id})
	}
	c.Status(http.StatusNoContent)
}

// RevokeAll handles DELETE /v1/sessions: log out everywhere.
func (h *Handler) RevokeAll(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	n, err := h.sessions.RevokeAllForSubject(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.auditLogger != nil {
		h.auditLogger.LogEvent(ctx, userID, auditdomain.ActionLogoutAll, auditdomain.ResourceSession, map[string]string{"revoked": strconv.FormatInt(n, 10)})
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, service.ErrInvalidListQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidSubject):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
	default:
		h.logger.Error("session request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseListQuery(c *gin.Context) (domain.ListQuery, error) {
	q := domain.ListQuery{
		IPAddress: c.Query("ip_address"),
		UserAgent: c.Query("user_agent"),
		FamilyID:  c.Query("family_id"),
		OrderBy:   c.Query("order_by"),
	}
	var err error
	if v := c.Query("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			return q, errors.New("page must be an integer")
		}
	}
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, errors.New("limit must be an integer")
		}
	}
	switch strings.ToLower(c.Query("order")) {
	case "":
	case "asc":
		desc := false
		q.Desc = &desc
	case "desc":
		desc := true
		q.Desc = &desc
	default:
		return q, errors.New("order must be asc or desc")
	}
	return q, nil
}

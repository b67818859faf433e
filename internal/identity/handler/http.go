package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"easybaby/backend/internal/identity/service"
	"easybaby/backend/internal/server/middleware"
	sessionservice "easybaby/backend/internal/session/service"
)

// msgInvalidRefresh is returned for every refresh token rejection.
const msgInvalidRefresh = "invalid or expired refresh token"

// AuthService is the identity service used by the handler.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*service.AuthResult, error)
	Login(ctx context.Context, p service.LoginParams) (*service.AuthResult, error)
	Refresh(ctx context.Context, p service.RefreshParams) (*service.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
}

// Handler serves the /v1/auth endpoints.
type Handler struct {
	auth   AuthService
	logger *zap.Logger
}

// NewHandler returns a Handler backed by auth.
func NewHandler(auth AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: auth, logger: logger.Named("auth_handler")}
}

// Routes mounts the auth endpoints on rg. requireAuth guards logout-all.
func (h *Handler) Routes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	g := rg.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.POST("/logout-all", requireAuth, h.LogoutAll)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	TokenType       string    `json:"token_type"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
	ExpiresIn       int64     `json:"expires_in"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:     res.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: res.AccessExpiresAt,
		RefreshToken:    res.RefreshToken,
		ExpiresIn:       res.RefreshExpiresIn,
		UserID:          res.UserID,
		SessionID:       res.SessionID,
	}
}

// Register handles POST /v1/auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": res.UserID})
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), service.LoginParams{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: middleware.ClientIP(c.Request.Context()),
		UserAgent: middleware.UserAgent(c.Request.Context()),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Refresh handles POST /v1/auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidRefresh})
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), service.RefreshParams{
		RefreshToken: req.RefreshToken,
		IPAddress:    middleware.ClientIP(c.Request.Context()),
		UserAgent:    middleware.UserAgent(c.Request.Context()),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Logout handles POST /v1/auth/logout. Unknown or invalid tokens still get 204.
func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LogoutAll handles POST /v1/auth/logout-all for the authenticated caller.
func (h *Handler) LogoutAll(c *gin.Context) {
	userID, ok := middleware.GetUserID(c.Request.Context())
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
		return
	}
	n, err := h.auth.LogoutAll(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessionservice.ErrInvalidRefreshToken):
		h.logger.Info("refresh rejected", zap.String("reason", string(sessionservice.ReasonOf(err))))
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidRefresh})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, service.ErrSessionLimitReached):
		c.JSON(http.StatusForbidden, gin.H{"error": "session limit reached"})
	case errors.Is(err, sessionservice.ErrInvalidSubject):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
	default:
		h.logger.Error("auth request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

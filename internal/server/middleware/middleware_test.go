package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"easybaby/backend/internal/security"
	"easybaby/backend/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer", ""},
		{"Basic abc", ""},
		{"Bearer abc", "abc"},
		{"bearer   abc  ", "abc"},
		{"  BEARER abc", "abc"},
	}
	for _, tt := range tests {
		if got := extractBearer(tt.header); got != tt.want {
			t.Errorf("extractBearer(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestAuth(t *testing.T) {
	tokens := security.NewTestHMACTokenProvider()
	access, _, _, err := tokens.IssueAccess("user-1", "session-1", "family-1")
	require.NoError(t, err)
	refresh, err := tokens.SignRefresh(security.TokenPayload{Subject: "user-1", TokenID: "session-1", FamilyID: "family-1"}, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", Auth(tokens, nil), func(c *gin.Context) {
		userID, _ := GetUserID(c.Request.Context())
		sessionID, _ := GetSessionID(c.Request.Context())
		familyID, _ := GetFamilyID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user": userID, "session": sessionID, "family": familyID})
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + access, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized},
		{"valid", "Bearer " + access, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"user":"user-1","session":"session-1","family":"family-1"}`, w.Body.String())
			}
		})
	}
}

func TestClientAndLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(Logging(zap.New(core)), Client())
	r.GET("/who", func(c *gin.Context) {
		c.String(http.StatusOK, ClientIP(c.Request.Context())+"|"+UserAgent(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.RemoteAddr = "192.0.2.7:4321"
	req.Header.Set("User-Agent", "agent/1")
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "192.0.2.7|agent/1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logging(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestMetrics(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/v1/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/v1/sessions/a", "/v1/sessions/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/v1/sessions/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, unmatchedRoute, "404")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	r := gin.New()
	r.Use(Tracing(tp.Tracer("test")))
	r.GET("/v1/sessions", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/sessions", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SessionIssued()
	m.SessionIssued()
	m.Validation("ok")
	m.Validation("reuse")
	m.Revoked("family", 3)
	m.Revoked("session", 0)
	m.Cleaned(4)
	m.Sweep("ok")
	m.SecurityEvent(EventRefreshReuse)
	m.SessionLimit("evict_oldest")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("reuse")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Revocations.WithLabelValues("family")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Revocations.WithLabelValues("session")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SessionsCleaned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecurityEvents.WithLabelValues(EventRefreshReuse)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionLimitHits.WithLabelValues("evict_oldest")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionIssued()
	m.Validation("ok")
	m.Revoked("family", 1)
	m.Cleaned(1)
	m.Sweep("ok")
	m.SecurityEvent("x")
	m.SessionLimit("reject")
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).SessionIssued()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "easybaby_refresh_sessions_issued_total 1"))
}

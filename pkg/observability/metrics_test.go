package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.LoginOutcomesTotal)
	assert.NotNil(t, metrics.RiskStoreErrorsTotal)
	assert.NotNil(t, metrics.InvitesIssuedTotal)
	assert.NotNil(t, metrics.AuditWriteFailuresTotal)

	t.Run("registering twice panics", func(t *testing.T) {
		assert.Panics(t, func() { NewMetrics(registry) })
	})
}

func TestMetrics_RecordHelpers(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordLogin("routed", "LOGIN_SUCCESS", 20*time.Millisecond)
	metrics.RecordLogin("routed", "LOGIN_SUCCESS", 10*time.Millisecond)
	metrics.RecordLogin("rejected-domain", "LOGIN_REJECTED_DOMAIN", time.Millisecond)
	metrics.RecordRiskStoreError("incr")
	metrics.RecordRiskFailure()
	metrics.RecordRiskClear()
	metrics.RecordInviteIssued("ta")
	metrics.RecordInviteRedemption("valid")
	metrics.RecordAuditWriteFailure("LOGIN_SUCCESS")
	metrics.RecordAccessRequest("submitted")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LoginOutcomesTotal.WithLabelValues("routed", "LOGIN_SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoginOutcomesTotal.WithLabelValues("rejected-domain", "LOGIN_REJECTED_DOMAIN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskStoreErrorsTotal.WithLabelValues("incr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskFailuresRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskCountersCleared))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InvitesIssuedTotal.WithLabelValues("ta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InviteRedemptionsTotal.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues("LOGIN_SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessRequestsTotal.WithLabelValues("submitted")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordLogin("routed", "LOGIN_SUCCESS", time.Millisecond)
		metrics.RecordRiskStoreError("get")
		metrics.RecordRiskFailure()
		metrics.RecordRiskClear()
		metrics.RecordInviteIssued("student")
		metrics.RecordInviteRedemption("invalid")
		metrics.RecordAuditWriteFailure("LOGOUT")
		metrics.RecordAccessRequest("approved")
		metrics.UpdateDBStats(nil)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/invites/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/invites/secret-token-value", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/invites/{token}", "400"),
	))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordInviteIssued("student")

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "coursegate_invites_issued_total"))
}

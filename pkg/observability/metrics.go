package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The Record* helpers are safe to call
// on a nil *Metrics so components can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gateway metrics
	LoginOutcomesTotal *prometheus.CounterVec
	LoginDuration      prometheus.Histogram

	// Risk control metrics
	RiskStoreErrorsTotal *prometheus.CounterVec
	RiskFailuresRecorded prometheus.Counter
	RiskCountersCleared  prometheus.Counter

	// Invite metrics
	InvitesIssuedTotal     *prometheus.CounterVec
	InviteRedemptionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditWriteFailuresTotal *prometheus.CounterVec

	// Access request metrics
	AccessRequestsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_login_outcomes_total",
				Help: "Login attempts by final gateway state and audit event",
			},
			[]string{"state", "event"},
		),
		LoginDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coursegate_login_duration_seconds",
				Help:    "Time spent in the gateway state machine",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		RiskStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_risk_store_errors_total",
				Help: "Risk counter store errors by operation",
			},
			[]string{"operation"},
		),
		RiskFailuresRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursegate_risk_failures_recorded_total",
				Help: "Failed login attempts recorded against the risk counter",
			},
		),
		RiskCountersCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursegate_risk_counters_cleared_total",
				Help: "Risk counters cleared by trusted logins",
			},
		),

		InvitesIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_invites_issued_total",
				Help: "Invite tokens issued by course role",
			},
			[]string{"course_role"},
		),
		InviteRedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_invite_redemptions_total",
				Help: "Invite redemptions by outcome",
			},
			[]string{"outcome"},
		),

		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_audit_write_failures_total",
				Help: "Auth log writes that failed and were dropped",
			},
			[]string{"event_type"},
		),

		AccessRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegate_access_requests_total",
				Help: "Access requests by action",
			},
			[]string{"action"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coursegate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coursegate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginOutcomesTotal,
		m.LoginDuration,
		m.RiskStoreErrorsTotal,
		m.RiskFailuresRecorded,
		m.RiskCountersCleared,
		m.InvitesIssuedTotal,
		m.InviteRedemptionsTotal,
		m.AuditWriteFailuresTotal,
		m.AccessRequestsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordLogin records the final state of one gateway run
func (m *Metrics) RecordLogin(state, event string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoginOutcomesTotal.WithLabelValues(state, event).Inc()
	m.LoginDuration.Observe(d.Seconds())
}

// RecordRiskStoreError counts a failed risk store operation
func (m *Metrics) RecordRiskStoreError(operation string) {
	if m == nil {
		return
	}
	m.RiskStoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRiskFailure counts a recorded login failure
func (m *Metrics) RecordRiskFailure() {
	if m == nil {
		return
	}
	m.RiskFailuresRecorded.Inc()
}

// RecordRiskClear counts a cleared counter
func (m *Metrics) RecordRiskClear() {
	if m == nil {
		return
	}
	m.RiskCountersCleared.Inc()
}

// RecordInviteIssued counts an issued invite
func (m *Metrics) RecordInviteIssued(courseRole string) {
	if m == nil {
		return
	}
	m.InvitesIssuedTotal.WithLabelValues(courseRole).Inc()
}

// RecordInviteRedemption counts a redemption attempt by outcome
func (m *Metrics) RecordInviteRedemption(outcome string) {
	if m == nil {
		return
	}
	m.InviteRedemptionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuditWriteFailure counts a dropped auth log entry
func (m *Metrics) RecordAuditWriteFailure(eventType string) {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.WithLabelValues(eventType).Inc()
}

// RecordAccessRequest counts access-request workflow actions
func (m *Metrics) RecordAccessRequest(action string) {
	if m == nil {
		return
	}
	m.AccessRequestsTotal.WithLabelValues(action).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template so path parameters such as
// invite tokens never become label values.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

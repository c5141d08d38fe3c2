package trust

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/contextkeys"
	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/session"
)

type captureLogger struct {
	entries []*audit.Entry
}

func (c *captureLogger) Log(_ context.Context, e *audit.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func newTestHandlers(t *testing.T, perMinute int) (*mux.Router, sqlmock.Sqlmock, *captureLogger, *observability.Metrics) {
	db, mock := setupMockDB(t)
	capture := &captureLogger{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewHandlers(NewStore(db), audit.NewRecorder(capture, nil, nil), metrics, perMinute)

	router := mux.NewRouter()
	h.RegisterPublicRoutes(router)
	h.RegisterAdminRoutes(router.PathPrefix("/admin").Subrouter())
	return router, mock, capture, metrics
}

func postAccessRequest(router http.Handler, ip, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/access-requests", bytes.NewBufferString(body))
	req = req.WithContext(contextkeys.WithClientIP(req.Context(), ip))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_SubmitAccessRequest(t *testing.T) {
	router, mock, capture, metrics := newTestHandlers(t, 5)

	mock.ExpectQuery("INSERT INTO access_requests").
		WithArgs("x@gmail.com", "visiting student").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO access_requests").
		WithArgs("x@gmail.com", "visiting student, CS101").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	w := postAccessRequest(router, "203.0.113.5", `{"email":"x@gmail.com","reason":"visiting student"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postAccessRequest(router, "203.0.113.5", `{"email":"x@gmail.com","reason":"visiting student, CS101"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, capture.entries, 2)
	assert.Equal(t, audit.EventAccessRequestSubmitted, capture.entries[0].EventType)
	assert.Equal(t, audit.EventAccessRequestUpdated, capture.entries[1].EventType)
	assert.Equal(t, "x@gmail.com", capture.entries[0].Identifier)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessRequestsTotal.WithLabelValues("submitted")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_SubmitAccessRequest_Validation(t *testing.T) {
	router, _, _, _ := newTestHandlers(t, 100)

	for _, body := range []string{`{"email":""}`, `{"email":"not-an-email"}`, `{"email":"Eve <eve@x.com>"}`, `not json`} {
		w := postAccessRequest(router, "203.0.113.6", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandlers_SubmitAccessRequest_Throttled(t *testing.T) {
	router, mock, _, metrics := newTestHandlers(t, 2)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("INSERT INTO access_requests").
			WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
		w := postAccessRequest(router, "198.51.100.9", `{"email":"x@gmail.com"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := postAccessRequest(router, "198.51.100.9", `{"email":"x@gmail.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessRequestsTotal.WithLabelValues("throttled")))

	// Other addresses have their own budget.
	mock.ExpectQuery("INSERT INTO access_requests").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	w = postAccessRequest(router, "198.51.100.10", `{"email":"y@gmail.com"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandlers_SubmitAccessRequest_ForwardedForFromUntrustedPeer(t *testing.T) {
	router, mock, _, _ := newTestHandlers(t, 1)
	proxies, err := httputil.NewProxyTrust([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := httputil.ClientIPMiddleware(proxies)(router)

	post := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/access-requests", bytes.NewBufferString(`{"email":"x@gmail.com"}`))
		req.RemoteAddr = "198.51.100.20:40000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	mock.ExpectQuery("INSERT INTO access_requests").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	require.Equal(t, http.StatusCreated, post("203.0.113.1"))

	// Rotating the header does not buy a fresh budget.
	assert.Equal(t, http.StatusTooManyRequests, post("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, post("203.0.113.3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_ApproveAccessRequest(t *testing.T) {
	router, mock, _, _ := newTestHandlers(t, 5)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM access_requests").
		WithArgs("x@gmail.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO whitelist_entries").
		WithArgs("x@gmail.com", "admin@uni.edu").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/admin/access-requests/x@gmail.com/approve", nil)
	req = req.WithContext(session.WithClaims(req.Context(), &session.Claims{Email: "admin@uni.edu", Role: "admin"}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_ApproveAccessRequest_NotFound(t *testing.T) {
	router, mock, _, _ := newTestHandlers(t, 5)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM access_requests").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/access-requests/x@gmail.com/approve", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

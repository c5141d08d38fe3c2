package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursegate/pkg/contextkeys"
	"github.com/platinummonkey/coursegate/pkg/observability"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(observability.NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps a valid inbound id", func(t *testing.T) {
		inbound := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, inbound)

		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, inbound, seen)
	})

	t.Run("replaces a malformed inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")

		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "<script>", seen)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestNewProxyTrust(t *testing.T) {
	_, err := NewProxyTrust([]string{"10.0.0.0/8", "192.0.2.10", "::1", " "})
	require.NoError(t, err)

	_, err = NewProxyTrust([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = NewProxyTrust([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}

func TestProxyTrust_ClientIP(t *testing.T) {
	trust, err := NewProxyTrust([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trust   *ProxyTrust
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "trusted proxy forwards client", trust: trust, headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, remote: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "spoofed hop left of real client", trust: trust, headers: map[string]string{"X-Forwarded-For": "198.51.100.66, 203.0.113.7, 10.0.0.2"}, remote: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "all hops trusted", trust: trust, headers: map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, remote: "10.0.0.1:1234", want: "10.0.0.3"},
		{name: "real ip from trusted proxy", trust: trust, headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:1234", want: "198.51.100.2"},
		{name: "untrusted peer forwarded for ignored", trust: trust, headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "untrusted peer real ip ignored", trust: trust, headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "nil trust ignores headers", trust: nil, headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, remote: "10.0.0.1:1234", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, tt.trust.ClientIP(req))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var got string
	handler := ClientIPMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = contextkeys.GetClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:80"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.9", got)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "session-secret-0123456789"

func TestManager_SignParse(t *testing.T) {
	m := NewManager(testSecret, time.Hour, false)

	token, err := m.Sign(Claims{UserID: "u-1", Email: "a@uni.edu", Role: "student"})
	require.NoError(t, err)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "a@uni.edu", claims.Email)
	assert.Equal(t, "student", claims.Role)
}

func TestManager_ParseRejects(t *testing.T) {
	m := NewManager(testSecret, time.Hour, false)
	token, err := m.Sign(Claims{UserID: "u-1"})
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		_, err := NewManager("another-secret-0123456789", time.Hour, false).Parse(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewManager(testSecret, time.Hour, false)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "admin", Role: "admin"})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Parse(s)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestManager_IssueAndClear(t *testing.T) {
	m := NewManager(testSecret, time.Hour, true)

	w := httptest.NewRecorder()
	require.NoError(t, m.Issue(w, Claims{UserID: "u-1"}))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	w = httptest.NewRecorder()
	m.Clear(w)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestManager_Middleware(t *testing.T) {
	m := NewManager(testSecret, time.Hour, false)
	token, err := m.Sign(Claims{UserID: "u-1", Role: "instructor"})
	require.NoError(t, err)

	var seen *Claims
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	t.Run("cookie", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		handler.ServeHTTP(httptest.NewRecorder(), req)
		require.NotNil(t, seen)
		assert.Equal(t, "instructor", seen.Role)
	})

	t.Run("bearer", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotNil(t, seen)
	})

	t.Run("invalid token passes through anonymous", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "tampered"})
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Nil(t, seen)
	})
}

func TestRequireSessionAndRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name    string
		claims  *Claims
		handler http.Handler
		want    int
	}{
		{"no session", nil, RequireSession(ok), http.StatusUnauthorized},
		{"session", &Claims{Role: "student"}, RequireSession(ok), http.StatusOK},
		{"role missing session", nil, RequireRole("admin")(ok), http.StatusUnauthorized},
		{"wrong role", &Claims{Role: "student"}, RequireRole("admin")(ok), http.StatusForbidden},
		{"one of roles", &Claims{Role: "instructor"}, RequireRole("admin", "instructor")(ok), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type storedRoles struct {
	roles map[string]string
	err   error
}

func (s storedRoles) StoredRole(_ context.Context, userID string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	role, ok := s.roles[userID]
	return role, ok, nil
}

func TestRefreshRole(t *testing.T) {
	m := NewManager(testSecret, time.Hour, false)
	token, err := m.Sign(Claims{UserID: "u-1", Role: "admin"})
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		source storedRoles
		want   int
	}{
		{"still admin", storedRoles{roles: map[string]string{"u-1": "admin"}}, http.StatusOK},
		{"demoted after login", storedRoles{roles: map[string]string{"u-1": "student"}}, http.StatusForbidden},
		{"deleted after login", storedRoles{roles: map[string]string{}}, http.StatusUnauthorized},
		{"lookup failure", storedRoles{err: errors.New("connection refused")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := m.Middleware(RefreshRole(tt.source)(RequireRole("admin")(ok)))
			req := httptest.NewRequest(http.MethodGet, "/admin/auth-logs", nil)
			req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("anonymous requests skip the lookup", func(t *testing.T) {
		handler := RefreshRole(storedRoles{err: errors.New("unused")})(ok)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// Package session carries the authenticated identity between requests in a
// signed cookie. The gateway issues it after a routed login; everything else
// only reads it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/coursegate/pkg/contextkeys"
	"github.com/platinummonkey/coursegate/pkg/httputil"
)

// CookieName is the session cookie
const CookieName = "coursegate_session"

const issuer = "coursegate"

// ErrInvalidSession is returned for a missing, malformed, forged or expired
// session token
var ErrInvalidSession = errors.New("invalid session")

// Claims is the identity stored in a session
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 session tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager creates a session manager. secure marks the cookie HTTPS-only.
func NewManager(secret string, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}
}

// Sign returns a signed token for claims
func (m *Manager) Sign(claims Claims) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Issue signs claims and sets the session cookie
func (m *Manager) Issue(w http.ResponseWriter, claims Claims) error {
	signed, err := m.Sign(claims)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware attaches the session claims to the request context when the
// request carries a valid cookie or bearer token. Requests without one pass
// through unauthenticated.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.Parse(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// WithClaims adds session claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextkeys.SessionKey, claims)
}

// FromContext returns the session claims, if any
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextkeys.SessionKey).(*Claims)
	return claims, ok && claims != nil
}

// RequireSession rejects requests without a session with 401
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose session role is not one of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient role permissions")
		})
	}
}

// RoleSource reports the stored primary role of a user. ok is false for
// users that no longer exist or are deactivated.
type RoleSource interface {
	StoredRole(ctx context.Context, userID string) (role string, ok bool, err error)
}

// RefreshRole replaces the role carried in the session with the stored one,
// so role changes and deactivation apply to sessions already issued. Sessions
// of unknown users are dropped and the request continues unauthenticated.
func RefreshRole(src RoleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			role, found, err := src.StoredRole(r.Context(), claims.UserID)
			if err != nil {
				httputil.WriteInternalError(r.Context(), w, fmt.Errorf("failed to load session user: %w", err))
				return
			}
			if !found {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), nil)))
				return
			}

			refreshed := *claims
			refreshed.Role = role
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &refreshed)))
		})
	}
}

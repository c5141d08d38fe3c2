// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the gateway are defined here so that the
// packages setting a value and the packages reading it agree on one key.
//
//	ctx = context.WithValue(ctx, contextkeys.SessionKey, claims)
//	claims, _ := ctx.Value(contextkeys.SessionKey).(*session.Claims)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Claims
	// Set by: session.Manager.Middleware
	// Required by: /auth/me, /auth/register, invite and admin routes
	SessionKey Key = "session"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext, error responses
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	LoggerKey Key = "logger"

	// ClientIPKey contains the caller's network address as a string
	// Set by: httputil.ClientIPMiddleware
	// Used by: risk identifiers and access-request throttling
	ClientIPKey Key = "client_ip"
)

// WithClientIP adds the caller's network address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the caller's network address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/contextkeys"
	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/identity"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/risk"
	"github.com/platinummonkey/coursegate/pkg/session"
	"github.com/platinummonkey/coursegate/pkg/sso"
)

const (
	stateCookieName = "coursegate_oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// Users is the user store behind the self-service and admin endpoints
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	Register(ctx context.Context, id uuid.UUID, role identity.Role) (*identity.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role identity.Role) (*identity.User, error)
}

// Handlers serves the login flow and the session endpoints
type Handlers struct {
	gateway     *Gateway
	provider    sso.Provider
	sessions    *session.Manager
	users       Users
	frontendURL string
	secure      bool
}

// NewHandlers creates the auth handlers. Redirects after login are rooted
// at frontendURL.
func NewHandlers(gateway *Gateway, provider sso.Provider, sessions *session.Manager, users Users, frontendURL string, secureCookies bool) *Handlers {
	return &Handlers{
		gateway:     gateway,
		provider:    provider,
		sessions:    sessions,
		users:       users,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		secure:      secureCookies,
	}
}

// RegisterRoutes registers the public auth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodGet)
	router.HandleFunc("/auth/callback", h.callback).Methods(http.MethodGet)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/auth/login-attempts", h.loginAttempts).Methods(http.MethodGet)
	router.Handle("/auth/me", session.RequireSession(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	router.Handle("/auth/register", session.RequireSession(http.HandlerFunc(h.register))).Methods(http.MethodPost)
}

// RegisterAdminRoutes registers user administration on an admin-only router
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/users/{userID}/role", h.setRole).Methods(http.MethodPut)
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.frontendURL+path, http.StatusFound)
}

// login handles GET /auth/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateCookieTTL.Seconds()),
	})

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// callback handles GET /auth/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recorder := h.gateway.recorder
	dest := h.gateway.dest
	query := r.URL.Query()
	details := audit.Details{
		Path:     r.URL.Path,
		Metadata: map[string]interface{}{"client_ip": contextkeys.GetClientIP(ctx)},
	}

	if providerErr := query.Get("error"); providerErr != "" {
		details.Metadata["error"] = providerErr
		details.Metadata["error_description"] = query.Get("error_description")
		recorder.Record(ctx, audit.EventLoginFailure, "identity provider returned an error", details)
		h.redirect(w, r, dest.CallbackError)
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || query.Get("state") != stateCookie.Value {
		recorder.Record(ctx, audit.EventLoginCallbackError, "invalid or missing state", details)
		h.redirect(w, r, dest.CallbackError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth", MaxAge: -1})

	ident, err := h.provider.Exchange(ctx, query.Get("code"))
	if err != nil {
		details.Metadata["error"] = err.Error()
		recorder.Record(ctx, audit.EventLoginCallbackError, "failed to obtain identity assertion", details)
		observability.FromContext(ctx).WithError(err).Warn("oauth callback failed")
		h.redirect(w, r, dest.CallbackError)
		return
	}

	details.Identifier = ident.Email
	details.UserID = ident.Subject
	recorder.Record(ctx, audit.EventLoginCallbackSuccess, "identity assertion received", details)

	res := h.gateway.Login(ctx, Attempt{
		Identity: *ident,
		ClientIP: contextkeys.GetClientIP(ctx),
		Path:     r.URL.Path,
	})
	if res.Succeeded() {
		if err := h.sessions.Issue(w, claimsFor(res.User)); err != nil {
			observability.FromContext(ctx).WithError(err).Error("failed to issue session")
			h.redirect(w, r, dest.ServerError)
			return
		}
	}
	h.redirect(w, r, res.Destination)
}

func claimsFor(user *identity.User) session.Claims {
	return session.Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.DisplayName,
		Role:   string(user.Role),
	}
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recorder := h.gateway.recorder
	details := audit.Details{Path: r.URL.Path}

	claims, ok := session.FromContext(ctx)
	if ok {
		details.Identifier = claims.Email
		details.UserID = claims.UserID
	}
	recorder.Record(ctx, audit.EventLogoutInitiated, "logout requested", details)

	h.sessions.Clear(w)
	if ok {
		recorder.Record(ctx, audit.EventLogoutSuccess, "logged out", details)
	} else {
		recorder.Record(ctx, audit.EventLogoutError, "logout without an active session", details)
	}
	_ = httputil.WriteSuccess(w, map[string]string{"message": "logged out"})
}

type profileResponse struct {
	*identity.User
	CourseRole string `json:"course_role,omitempty"`
}

// me handles GET /auth/me
func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	h.gateway.recorder.Record(ctx, audit.EventProfileAccessed, "profile accessed", audit.Details{
		Identifier: user.Email,
		UserID:     user.ID.String(),
		Path:       r.URL.Path,
	})
	_ = httputil.WriteSuccess(w, profileResponse{
		User:       user,
		CourseRole: string(h.gateway.courseRole(ctx, user.ID)),
	})
}

type roleRequest struct {
	Role string `json:"role"`
}

type registerResponse struct {
	User     *identity.User `json:"user"`
	Redirect string         `json:"redirect"`
}

// register handles POST /auth/register
func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.FromContext(ctx)
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid session")
		return
	}

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.Register(ctx, userID, role)
	if !h.writeRoleError(w, r, err) {
		return
	}
	if err := h.sessions.Issue(w, claimsFor(user)); err != nil {
		httputil.WriteInternalError(ctx, w, err)
		return
	}
	_ = httputil.WriteSuccess(w, registerResponse{
		User:     user,
		Redirect: h.frontendURL + h.gateway.route(ctx, user),
	})
}

// setRole handles PUT /admin/users/{userID}/role
func (h *Handlers) setRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "userID")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.SetRole(r.Context(), userID, role)
	if !h.writeRoleError(w, r, err) {
		return
	}
	_ = httputil.WriteSuccess(w, user)
}

// writeRoleError maps role change errors to responses. It reports whether
// err was nil.
func (h *Handlers) writeRoleError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, identity.ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, identity.ErrInvalidRole):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, identity.ErrInvalidTransition):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(r.Context(), w, err)
	}
	return false
}

func (h *Handlers) sessionUser(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	claims, _ := session.FromContext(r.Context())
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid session")
		return nil, false
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, identity.ErrUserNotFound) {
		h.sessions.Clear(w)
		httputil.WriteUnauthorized(w, "user no longer exists")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return nil, false
	}
	return user, true
}

type attemptsResponse struct {
	risk.Status
	ResetInSeconds int64 `json:"reset_in_seconds"`
}

// loginAttempts handles GET /auth/login-attempts. It reports the counter for
// the session email when authenticated, else for the caller's address.
func (h *Handlers) loginAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var id string
	if claims, ok := session.FromContext(ctx); ok && claims.Email != "" {
		id = risk.UserIdentifier(claims.Email)
	} else if ip := contextkeys.GetClientIP(ctx); ip != "" {
		id = risk.IPIdentifier(ip)
	} else {
		httputil.WriteBadRequest(w, "unable to determine caller identity")
		return
	}

	status := h.gateway.risk.Status(ctx, id)
	_ = httputil.WriteSuccess(w, attemptsResponse{
		Status:         status,
		ResetInSeconds: int64(status.ResetIn / time.Second),
	})
}

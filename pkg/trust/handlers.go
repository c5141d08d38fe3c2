package trust

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/contextkeys"
	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/session"
)

const maxReasonLength = 2000

// requestLimiter throttles access-request submissions per client address
type requestLimiter struct {
	perMinute int
	limiters  *lru.LRU[string, *rate.Limiter]
}

func newRequestLimiter(perMinute int) *requestLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	return &requestLimiter{
		perMinute: perMinute,
		limiters:  lru.NewLRU[string, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

func (l *requestLimiter) allow(addr string) bool {
	limiter, ok := l.limiters.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.limiters.Add(addr, limiter)
	}
	return limiter.Allow()
}

// Handlers serves the access-request and whitelist API
type Handlers struct {
	store    *Store
	recorder *audit.Recorder
	metrics  *observability.Metrics
	limiter  *requestLimiter
}

// NewHandlers creates trust handlers. requestsPerMinute bounds public
// submissions per client address.
func NewHandlers(store *Store, recorder *audit.Recorder, metrics *observability.Metrics, requestsPerMinute int) *Handlers {
	return &Handlers{
		store:    store,
		recorder: recorder,
		metrics:  metrics,
		limiter:  newRequestLimiter(requestsPerMinute),
	}
}

// RegisterPublicRoutes registers POST /auth/access-requests
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/access-requests", h.submitAccessRequest).Methods(http.MethodPost)
}

// RegisterAdminRoutes registers the admin-only routes on an admin subrouter
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/access-requests", h.listAccessRequests).Methods(http.MethodGet)
	router.HandleFunc("/access-requests/{email}/approve", h.approveAccessRequest).Methods(http.MethodPost)
	router.HandleFunc("/whitelist", h.listWhitelist).Methods(http.MethodGet)
	router.HandleFunc("/whitelist", h.addWhitelist).Methods(http.MethodPost)
}

type accessRequestBody struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (h *Handlers) submitAccessRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr := contextkeys.GetClientIP(ctx)
	if addr == "" {
		addr = httputil.ClientIP(r)
	}
	if !h.limiter.allow(addr) {
		h.metrics.RecordAccessRequest("throttled")
		httputil.WriteTooManyRequests(w, "too many access requests, try again later")
		return
	}

	var body accessRequestBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	email, err := parseEmail(body.Email)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if len(reason) > maxReasonLength {
		httputil.WriteBadRequest(w, "reason is too long")
		return
	}

	created, err := h.store.UpsertAccessRequest(ctx, email, reason)
	if err != nil {
		httputil.WriteInternalError(ctx, w, err)
		return
	}

	eventType, action := audit.EventAccessRequestSubmitted, "submitted"
	if !created {
		eventType, action = audit.EventAccessRequestUpdated, "updated"
	}
	h.metrics.RecordAccessRequest(action)
	h.recorder.Record(ctx, eventType, "access request "+action, audit.Details{
		Identifier: email,
		Path:       r.URL.Path,
		Metadata:   map[string]interface{}{"client_ip": addr},
	})

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	_ = httputil.WriteJSON(w, status, map[string]interface{}{
		"email":  email,
		"status": action,
	})
}

func (h *Handlers) listAccessRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.store.ListAccessRequests(r.Context())
	if err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"access_requests": requests})
}

func (h *Handlers) approveAccessRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, err := parseEmail(mux.Vars(r)["email"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	err = h.store.ApproveAccessRequest(ctx, email, approver(r))
	if errors.Is(err, ErrAccessRequestNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	} else if err != nil {
		httputil.WriteInternalError(ctx, w, err)
		return
	}

	h.metrics.RecordAccessRequest("approved")
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"email":       email,
		"approved_by": approver(r),
	}).Info("access request approved")

	_ = httputil.WriteSuccessMessage(w, "access request approved", map[string]string{"email": email})
}

func (h *Handlers) listWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListWhitelist(r.Context())
	if err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"whitelist": entries})
}

func (h *Handlers) addWhitelist(w http.ResponseWriter, r *http.Request) {
	var body accessRequestBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	email, err := parseEmail(body.Email)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.store.AddWhitelist(r.Context(), email, approver(r)); err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}
	h.metrics.RecordAccessRequest("whitelisted")
	_ = httputil.WriteCreated(w, map[string]string{"email": email})
}

func approver(r *http.Request) string {
	if claims, ok := session.FromContext(r.Context()); ok {
		return claims.Email
	}
	return ""
}

func parseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", errors.New("invalid email address")
	}
	return NormalizeEmail(addr.Address), nil
}

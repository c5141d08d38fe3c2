package invite

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursegate/pkg/enrollment"
	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/rbac"
	"github.com/platinummonkey/coursegate/pkg/session"
)

// Handlers serves the invite API
type Handlers struct {
	service *Service
	checker rbac.Checker
	baseURL string
}

// NewHandlers creates invite handlers. baseURL prefixes invite links.
func NewHandlers(service *Service, checker rbac.Checker, baseURL string) *Handlers {
	return &Handlers{service: service, checker: checker, baseURL: baseURL}
}

// RegisterRoutes registers invite routes. The router must already run the
// session middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	issue := rbac.RequirePermission(h.checker, rbac.PermInviteIssue, "offeringID")(http.HandlerFunc(h.issueInvite))
	router.Handle("/offerings/{offeringID}/invites", session.RequireSession(issue)).Methods(http.MethodPost)
	router.Handle("/invites/{token}", session.RequireSession(http.HandlerFunc(h.redeemInvite))).Methods(http.MethodGet)
}

type issueInviteBody struct {
	CourseRole     string `json:"course_role"`
	ExpiresInHours int    `json:"expiresInHours,omitempty"`
}

func (h *Handlers) issueInvite(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := httputil.ParsePathUUIDOrError(w, r, "offeringID")
	if !ok {
		return
	}

	var body issueInviteBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	inv, err := h.service.Issue(r.Context(), IssueRequest{
		OfferingID: offeringID,
		CourseRole: body.CourseRole,
		TTLHours:   body.ExpiresInHours,
	})
	switch {
	case errors.Is(err, enrollment.ErrInvalidCourseRole):
		httputil.WriteBadRequest(w, "course_role must be one of student, ta, tutor")
		return
	case errors.Is(err, ErrInvalidTTL):
		httputil.WriteBadRequest(w, fmt.Sprintf("expiresInHours must be between 1 and %d", int(MaxTTL/time.Hour)))
		return
	case errors.Is(err, enrollment.ErrOfferingNotFound):
		httputil.WriteNotFoundError(w, "course offering not found or not active")
		return
	case err != nil:
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}

	_ = httputil.WriteCreated(w, map[string]interface{}{
		"token":       inv.Token,
		"offering":    inv.Offering,
		"course_role": inv.CourseRole,
		"expires_at":  inv.ExpiresAt,
		"invite_url":  fmt.Sprintf("%s/invites/%s", h.baseURL, inv.Token),
	})
}

func (h *Handlers) redeemInvite(w http.ResponseWriter, r *http.Request) {
	claims, _ := session.FromContext(r.Context())
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	red, err := h.service.Redeem(r.Context(), mux.Vars(r)["token"], userID)
	switch {
	case errors.Is(err, ErrInvalidToken):
		httputil.WriteBadRequest(w, ErrInvalidToken.Error())
		return
	case errors.Is(err, enrollment.ErrOfferingNotFound):
		httputil.WriteNotFoundError(w, "this course is no longer accepting enrollments")
		return
	case err != nil:
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"outcome":    red.Outcome,
		"message":    redemptionMessage(red),
		"offering":   red.Offering,
		"enrollment": red.Enrollment,
	})
}

func redemptionMessage(red *Redemption) string {
	title := red.Offering.Title
	if title == "" {
		title = red.Offering.Code
	}
	switch red.Outcome {
	case enrollment.OutcomeCreated:
		return fmt.Sprintf("You are now enrolled in %s as %s.", title, red.Enrollment.CourseRole)
	case enrollment.OutcomeReactivated:
		return fmt.Sprintf("Welcome back. Your enrollment in %s is active again as %s.", title, red.Enrollment.CourseRole)
	default:
		return fmt.Sprintf("You are already enrolled in %s.", title)
	}
}

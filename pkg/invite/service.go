package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/coursegate/pkg/enrollment"
	"github.com/platinummonkey/coursegate/pkg/observability"
)

const (
	// DefaultTTL is the invite lifetime when none is requested
	DefaultTTL = 72 * time.Hour
	// MaxTTL bounds a requested invite lifetime
	MaxTTL = 365 * 24 * time.Hour
)

// ErrInvalidTTL is returned for a requested lifetime outside (0, MaxTTL]
var ErrInvalidTTL = errors.New("invalid invite lifetime")

// Enrollments is the enrollment primitive used by the service
type Enrollments interface {
	GetActiveOffering(ctx context.Context, id uuid.UUID) (*enrollment.Offering, error)
	Enroll(ctx context.Context, userID, offeringID uuid.UUID, role enrollment.CourseRole) (enrollment.Outcome, *enrollment.Enrollment, error)
}

// IssueRequest asks for a new invite
type IssueRequest struct {
	OfferingID uuid.UUID
	CourseRole string
	// TTLHours overrides the default lifetime when positive. It may not
	// exceed MaxTTL.
	TTLHours int
}

// Invite is an issued token
type Invite struct {
	Token      string               `json:"token"`
	Offering   *enrollment.Offering `json:"offering"`
	CourseRole string               `json:"course_role"`
	ExpiresAt  time.Time            `json:"expires_at"`
}

// Redemption is the result of redeeming a token
type Redemption struct {
	Outcome    enrollment.Outcome     `json:"outcome"`
	Offering   *enrollment.Offering   `json:"offering"`
	Enrollment *enrollment.Enrollment `json:"enrollment"`
}

// Service issues and redeems invites
type Service struct {
	signer      *Signer
	enrollments Enrollments
	defaultTTL  time.Duration
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewService creates an invite service. defaultTTL falls back to DefaultTTL
// when zero.
func NewService(signer *Signer, enrollments Enrollments, defaultTTL time.Duration, metrics *observability.Metrics) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Service{
		signer:      signer,
		enrollments: enrollments,
		defaultTTL:  defaultTTL,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Issue creates a token for an active offering
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Invite, error) {
	role, err := enrollment.ParseCourseRole(req.CourseRole)
	if err != nil {
		return nil, err
	}
	if req.TTLHours < 0 || req.TTLHours > int(MaxTTL/time.Hour) {
		return nil, fmt.Errorf("%w: %d hours", ErrInvalidTTL, req.TTLHours)
	}

	offering, err := s.enrollments.GetActiveOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}

	ttl := s.defaultTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	now := s.now().UTC()
	payload := Payload{
		OfferingID: offering.ID,
		CourseRole: string(role),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	token, err := s.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign invite: %w", err)
	}

	s.metrics.RecordInviteIssued(string(role))
	return &Invite{
		Token:      token,
		Offering:   offering,
		CourseRole: string(role),
		ExpiresAt:  payload.ExpiresAt,
	}, nil
}

// Redeem verifies token and enrolls userID with the embedded role
func (s *Service) Redeem(ctx context.Context, token string, userID uuid.UUID) (*Redemption, error) {
	payload, err := s.signer.Verify(token)
	if err != nil {
		s.metrics.RecordInviteRedemption("invalid")
		return nil, ErrInvalidToken
	}
	if !s.now().Before(payload.ExpiresAt) {
		s.metrics.RecordInviteRedemption("invalid")
		return nil, ErrInvalidToken
	}

	offering, err := s.enrollments.GetActiveOffering(ctx, payload.OfferingID)
	if err != nil {
		if errors.Is(err, enrollment.ErrOfferingNotFound) {
			s.metrics.RecordInviteRedemption("offering_inactive")
		}
		return nil, err
	}

	outcome, e, err := s.enrollments.Enroll(ctx, userID, offering.ID, enrollment.CourseRole(payload.CourseRole))
	if err != nil {
		return nil, fmt.Errorf("failed to enroll: %w", err)
	}

	s.metrics.RecordInviteRedemption(string(outcome))
	return &Redemption{Outcome: outcome, Offering: offering, Enrollment: e}, nil
}

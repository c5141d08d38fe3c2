// Package enrollment reads course offerings and writes enrollments. Both
// tables belong to the course CRUD layer; this package only touches the
// rows the gateway needs.
package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOfferingNotFound is returned when an offering does not exist or is
	// not active
	ErrOfferingNotFound = errors.New("course offering not found")
	// ErrInvalidCourseRole is returned for roles outside the course role set
	ErrInvalidCourseRole = errors.New("invalid course role")
)

// CourseRole is a user's role within one offering
type CourseRole string

const (
	RoleStudent CourseRole = "student"
	RoleTA      CourseRole = "ta"
	RoleTutor   CourseRole = "tutor"
)

// Valid reports whether r is a known course role
func (r CourseRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTA, RoleTutor:
		return true
	}
	return false
}

// ParseCourseRole validates s as a course role
func ParseCourseRole(s string) (CourseRole, error) {
	r := CourseRole(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCourseRole, s)
	}
	return r, nil
}

// Status values for an enrollment
const (
	StatusEnrolled = "enrolled"
	StatusDropped  = "dropped"
)

// Outcome describes what Enroll did
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeAlreadyEnrolled Outcome = "already_enrolled"
	OutcomeReactivated     Outcome = "reactivated"
)

// Offering is one run of a course
type Offering struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Enrollment ties a user to an offering
type Enrollment struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	OfferingID uuid.UUID  `json:"offering_id"`
	CourseRole CourseRole `json:"course_role"`
	Status     string     `json:"status"`
	EnrolledAt time.Time  `json:"enrolled_at"`
	DroppedAt  *time.Time `json:"dropped_at,omitempty"`
}

// Service reads offerings and writes enrollments
type Service struct {
	db *sql.DB
}

// NewService creates a new enrollment service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const offeringColumns = `id, code, title, is_active, created_at`

// ActiveOffering returns the most recently created active offering. Only one
// active offering at a time is supported.
func (s *Service) ActiveOffering(ctx context.Context) (*Offering, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+offeringColumns+`
		FROM course_offerings
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`)
	return scanOffering(row)
}

// GetOffering returns an offering by id whether or not it is active
func (s *Service) GetOffering(ctx context.Context, id uuid.UUID) (*Offering, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+offeringColumns+`
		FROM course_offerings
		WHERE id = $1
	`, id)
	return scanOffering(row)
}

// GetActiveOffering returns the offering only when it is active
func (s *Service) GetActiveOffering(ctx context.Context, id uuid.UUID) (*Offering, error) {
	o, err := s.GetOffering(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsActive {
		return nil, ErrOfferingNotFound
	}
	return o, nil
}

func scanOffering(row *sql.Row) (*Offering, error) {
	o := &Offering{}
	err := row.Scan(&o.ID, &o.Code, &o.Title, &o.IsActive, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offering: %w", err)
	}
	return o, nil
}

// Enroll enrolls userID in offeringID with role. It is idempotent: an
// existing active enrollment is left alone, and a dropped one is reactivated
// with the new role and a fresh enrollment date.
func (s *Service) Enroll(ctx context.Context, userID, offeringID uuid.UUID, role CourseRole) (Outcome, *Enrollment, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidCourseRole, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e := &Enrollment{}
	var droppedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, offering_id, course_role, status, enrolled_at, dropped_at
		FROM enrollments
		WHERE user_id = $1 AND offering_id = $2
		FOR UPDATE
	`, userID, offeringID).Scan(&e.ID, &e.UserID, &e.OfferingID, &e.CourseRole, &e.Status, &e.EnrolledAt, &droppedAt)

	var outcome Outcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e = &Enrollment{UserID: userID, OfferingID: offeringID, CourseRole: role, Status: StatusEnrolled}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO enrollments (user_id, offering_id, course_role, status, enrolled_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (user_id, offering_id) DO NOTHING
			RETURNING id, enrolled_at
		`, userID, offeringID, role, StatusEnrolled).Scan(&e.ID, &e.EnrolledAt)
		if errors.Is(err, sql.ErrNoRows) {
			// A concurrent request created it first.
			if err := tx.Commit(); err != nil {
				return "", nil, fmt.Errorf("failed to commit enrollment: %w", err)
			}
			return OutcomeAlreadyEnrolled, e, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to create enrollment: %w", err)
		}
		outcome = OutcomeCreated

	case err != nil:
		return "", nil, fmt.Errorf("failed to get enrollment: %w", err)

	case e.Status == StatusEnrolled:
		if droppedAt.Valid {
			e.DroppedAt = &droppedAt.Time
		}
		outcome = OutcomeAlreadyEnrolled

	default:
		err = tx.QueryRowContext(ctx, `
			UPDATE enrollments
			SET status = $1, course_role = $2, enrolled_at = NOW(), dropped_at = NULL
			WHERE id = $3
			RETURNING enrolled_at
		`, StatusEnrolled, role, e.ID).Scan(&e.EnrolledAt)
		if err != nil {
			return "", nil, fmt.Errorf("failed to reactivate enrollment: %w", err)
		}
		e.Status = StatusEnrolled
		e.CourseRole = role
		e.DroppedAt = nil
		outcome = OutcomeReactivated
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("failed to commit enrollment: %w", err)
	}
	return outcome, e, nil
}

// CurrentRole returns the user's course role in their most recent active
// enrollment, or "" when they have none
func (s *Service) CurrentRole(ctx context.Context, userID uuid.UUID) (CourseRole, error) {
	var role CourseRole
	err := s.db.QueryRowContext(ctx, `
		SELECT e.course_role
		FROM enrollments e
		JOIN course_offerings o ON o.id = e.offering_id
		WHERE e.user_id = $1 AND e.status = $2 AND o.is_active = TRUE
		ORDER BY e.enrolled_at DESC
		LIMIT 1
	`, userID, StatusEnrolled).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get course role: %w", err)
	}
	return role, nil
}

// CourseRoleIn returns the user's role in one offering when currently
// enrolled, or ""
func (s *Service) CourseRoleIn(ctx context.Context, userID, offeringID uuid.UUID) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT course_role FROM enrollments
		WHERE user_id = $1 AND offering_id = $2 AND status = $3
	`, userID, offeringID, StatusEnrolled).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get course role: %w", err)
	}
	return role, nil
}

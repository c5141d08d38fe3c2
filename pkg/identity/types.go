// Package identity provisions gateway users from trusted identity
// assertions and manages their primary role.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUntrustedIdentity is returned when an untrusted email reaches
	// provisioning. The gateway rejects these before provisioning.
	ErrUntrustedIdentity = errors.New("identity is not trusted")
	// ErrUserNotFound is returned when no active user matches
	ErrUserNotFound = errors.New("user not found")
	// ErrUserDeactivated is returned when the email belongs to a
	// soft-deleted user
	ErrUserDeactivated = errors.New("user is deactivated")
	// ErrInvalidRole is returned for roles outside the primary role set
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidTransition is returned when self-registration is not allowed
	// from the user's current role
	ErrInvalidTransition = errors.New("invalid role transition")
)

// Role is a user's primary role
type Role string

const (
	RoleUnregistered Role = "unregistered"
	RoleStudent      Role = "student"
	RoleInstructor   Role = "instructor"
	RoleAdmin        Role = "admin"
)

// Valid reports whether r is a known primary role
func (r Role) Valid() bool {
	switch r {
	case RoleUnregistered, RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole validates s as a primary role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// User is a provisioned gateway user
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Institution string    `json:"institution"`
	SubjectID   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Options carries what the identity provider asserted about a new user
type Options struct {
	DisplayName string
	SubjectID   string
	// DomainHint is the provider's hosted domain claim
	DomainHint string
	// ExplicitRole overrides the unregistered default. Administrative only.
	ExplicitRole Role
}

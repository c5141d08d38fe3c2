package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checker handles permission checks
type Checker interface {
	CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error)
}

// CourseRoleLookup returns a user's course role within one offering, or ""
type CourseRoleLookup interface {
	CourseRoleIn(ctx context.Context, userID, offeringID uuid.UUID) (string, error)
}

// RoleChecker grants permissions from a static role table
type RoleChecker struct {
	primary map[string][]Permission
	course  map[string][]Permission
	lookup  CourseRoleLookup
}

// DefaultPrimaryGrants returns the built-in grants per primary role
func DefaultPrimaryGrants() map[string][]Permission {
	return map[string][]Permission{
		"admin":      {PermInviteIssue, PermUserUpdateRole, PermAuthLogRead, PermWhitelistApprove},
		"instructor": {PermInviteIssue},
	}
}

// DefaultCourseGrants returns the built-in grants per course role, applied
// only within the offering the role belongs to
func DefaultCourseGrants() map[string][]Permission {
	return map[string][]Permission{
		"ta": {PermInviteIssue},
	}
}

// NewRoleChecker creates a checker with the default grants. lookup may be
// nil to ignore course roles.
func NewRoleChecker(lookup CourseRoleLookup) *RoleChecker {
	return &RoleChecker{
		primary: DefaultPrimaryGrants(),
		course:  DefaultCourseGrants(),
		lookup:  lookup,
	}
}

// CheckPermission implements Checker
func (c *RoleChecker) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	result := &PermissionCheckResult{CheckedAt: time.Now()}

	if hasPermission(c.primary[check.Role], check.Permission) {
		result.Allowed = true
		result.MatchedRoles = []string{check.Role}
		result.Reason = fmt.Sprintf("granted by role %s", check.Role)
		return result, nil
	}

	if c.lookup != nil && check.ResourceID != "" && check.UserID != uuid.Nil {
		offeringID, err := uuid.Parse(check.ResourceID)
		if err == nil {
			courseRole, err := c.lookup.CourseRoleIn(ctx, check.UserID, offeringID)
			if err != nil {
				return nil, fmt.Errorf("failed to get course role: %w", err)
			}
			if courseRole != "" && hasPermission(c.course[courseRole], check.Permission) {
				result.Allowed = true
				result.MatchedRoles = []string{"course:" + courseRole}
				result.Reason = fmt.Sprintf("granted by course role %s", courseRole)
				return result, nil
			}
		}
	}

	result.Reason = "no matching role found"
	return result, nil
}

func hasPermission(perms []Permission, want Permission) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}

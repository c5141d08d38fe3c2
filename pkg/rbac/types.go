package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Resource represents a resource type
type Resource string

const (
	ResourceInvite    Resource = "invite"
	ResourceUser      Resource = "user"
	ResourceAuthLog   Resource = "auth_log"
	ResourceWhitelist Resource = "whitelist"
)

// Action represents an action on a resource
type Action string

const (
	ActionIssue      Action = "issue"
	ActionRead       Action = "read"
	ActionUpdateRole Action = "update_role"
	ActionApprove    Action = "approve"
)

// Permission is a resource + action pair
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns "resource:action"
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

var (
	PermInviteIssue      = Permission{Resource: ResourceInvite, Action: ActionIssue}
	PermUserUpdateRole   = Permission{Resource: ResourceUser, Action: ActionUpdateRole}
	PermAuthLogRead      = Permission{Resource: ResourceAuthLog, Action: ActionRead}
	PermWhitelistApprove = Permission{Resource: ResourceWhitelist, Action: ActionApprove}
)

// PermissionCheck is one permission question
type PermissionCheck struct {
	UserID     uuid.UUID
	Role       string
	Permission Permission
	// ResourceID scopes the check, e.g. an offering id. Empty for global
	// permissions.
	ResourceID string
}

// PermissionCheckResult is the answer to a PermissionCheck
type PermissionCheckResult struct {
	Allowed      bool      `json:"allowed"`
	MatchedRoles []string  `json:"matched_roles,omitempty"`
	Reason       string    `json:"reason"`
	CheckedAt    time.Time `json:"checked_at"`
}

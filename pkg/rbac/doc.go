// Package rbac answers permission checks for the gateway's protected routes.
//
// Permissions are resource:action pairs. A check names the caller's user id
// and primary role, the permission and, for scoped resources, the resource
// id (an offering id for invites).
//
//	result, err := checker.CheckPermission(ctx, rbac.PermissionCheck{
//		UserID:     userID,
//		Role:       claims.Role,
//		Permission: rbac.PermInviteIssue,
//		ResourceID: offeringID.String(),
//	})
//
// RoleChecker grants by primary role, and optionally by the caller's course
// role within the scoped offering. A deployment with a central permission
// service can supply its own Checker.
package rbac

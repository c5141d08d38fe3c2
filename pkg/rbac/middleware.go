package rbac

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/session"
)

// RequirePermission rejects requests whose session lacks perm. resourceVar
// names the mux path variable holding the scoped resource id, or "".
func RequirePermission(checker Checker, perm Permission, resourceVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := session.FromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			userID, _ := uuid.Parse(claims.UserID)
			check := PermissionCheck{
				UserID:     userID,
				Role:       claims.Role,
				Permission: perm,
			}
			if resourceVar != "" {
				check.ResourceID = mux.Vars(r)[resourceVar]
			}

			result, err := checker.CheckPermission(r.Context(), check)
			if err != nil {
				httputil.WriteInternalError(r.Context(), w, err)
				return
			}
			if !result.Allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

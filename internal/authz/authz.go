// Package authz implements the role guard placed in front of HTTP routes.
package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"consultdesk/internal/auth"
	"consultdesk/internal/httpjson"
	"consultdesk/pkg/types"
)

const (
	roleAdmin      = "admin"
	roleSuperAdmin = "super admin"
)

// Authorize reports whether the principal satisfies any of the required roles.
// No required roles always permits; a principal without a role is denied.
// Matching is case-insensitive and tolerates compound labels by substring;
// "super admin" additionally satisfies "admin".
func Authorize(p *types.Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if p == nil {
		return false
	}
	role := Normalize(p.Role)
	if role == "" {
		return false
	}

	for _, r := range required {
		want := Normalize(r)
		if want == "" {
			continue
		}
		if want == roleAdmin && role == roleSuperAdmin {
			return true
		}
		if role == want || strings.Contains(role, want) {
			return true
		}
	}
	return false
}

// Normalize lowercases a role label, maps '_' and '-' to spaces and
// collapses runs of whitespace
func Normalize(role string) string {
	role = strings.ToLower(role)
	role = strings.NewReplacer("_", " ", "-", " ").Replace(role)
	return strings.Join(strings.Fields(role), " ")
}

// RequireRoles guards a route; it expects auth.Authenticate to run first.
// Denial is a 403 and never reaches the handler.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				httpjson.Error(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
				return
			}
			if !Authorize(p, roles...) {
				slog.Debug("role guard denied request",
					"principal_id", p.ID, "role", p.Role, "required", roles, "path", r.URL.Path)
				httpjson.Error(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff rejects lead principals with 403
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			httpjson.Error(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
			return
		}
		if p.IsLead() {
			httpjson.Error(w, http.StatusForbidden, "staff only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package httpapi

import (
	"net/http"
	"strings"

	"carbontrace.io/internal/auth"
	"carbontrace.io/internal/obs"
)

// Middleware is a standard handler wrapper.
type Middleware func(http.Handler) http.Handler

// Strategy selects how a multi-permission requirement combines.
type Strategy int

const (
	// StrategyAny passes when the principal holds at least one listed
	// permission. This is the default.
	StrategyAny Strategy = iota
	// StrategyAll requires every listed permission.
	StrategyAll
)

// RequirePermission produces middleware enforcing a permission requirement
// against the request's resolved principal. The global-admin wildcard
// satisfies any check unconditionally. The outcome is binary; any internal
// inconsistency denies.
func (a *API) RequirePermission(strategy Strategy, permissions ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeFailure(w, http.StatusUnauthorized, auth.CodeMissingToken, "authentication required")
				return
			}
			if !satisfies(principal, strategy, permissions) {
				a.deny(w, r, principal, permissions, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole produces middleware requiring an exact role-code match. Roles
// are flat: no hierarchy or inheritance between codes.
func (a *API) RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeFailure(w, http.StatusUnauthorized, auth.CodeMissingToken, "authentication required")
				return
			}
			for _, role := range roles {
				if principal.RoleCode() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			a.deny(w, r, principal, nil, roles)
		})
	}
}

// RequireCompanyAdmin produces middleware checking the admin-of-tenant flag.
// Global principals pass; they administer every tenant.
func (a *API) RequireCompanyAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeFailure(w, http.StatusUnauthorized, auth.CodeMissingToken, "authentication required")
				return
			}
			if !auth.IsTenantAdmin(principal) {
				a.deny(w, r, principal, nil, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResource derives the permission from the HTTP verb and a resource
// name, so route definitions avoid hardcoding one permission string per verb.
func (a *API) RequireResource(resource string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			perm := PermissionForRequest(r.Method, resource)
			if perm == "" {
				writeFailure(w, http.StatusMethodNotAllowed, auth.CodeValidation, "method not allowed")
				return
			}
			a.RequirePermission(StrategyAny, perm)(next).ServeHTTP(w, r)
		})
	}
}

// PermissionForRequest maps an HTTP verb to its implicit action and combines
// it with the resource name: GET+manifests -> view_manifests.
func PermissionForRequest(method, resource string) string {
	resource = strings.TrimSpace(strings.ToLower(resource))
	if resource == "" {
		return ""
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return "view_" + resource
	case http.MethodPost:
		return "create_" + resource
	case http.MethodPut, http.MethodPatch:
		return "update_" + resource
	case http.MethodDelete:
		return "delete_" + resource
	default:
		return ""
	}
}

func satisfies(principal auth.Principal, strategy Strategy, permissions []string) bool {
	if len(permissions) == 0 {
		return true
	}
	switch strategy {
	case StrategyAll:
		for _, perm := range permissions {
			if !principal.HasPermission(perm) {
				return false
			}
		}
		return true
	case StrategyAny:
		for _, perm := range permissions {
			if principal.HasPermission(perm) {
				return true
			}
		}
		return false
	default:
		// Unknown strategy denies.
		return false
	}
}

// deny logs the full denial context server-side and answers with a generic
// message. Outside production the requirement is echoed for debuggability.
func (a *API) deny(w http.ResponseWriter, r *http.Request, principal auth.Principal, requiredPerms, requiredRoles []string) {
	obs.RecordDenial(denialReason(requiredPerms, requiredRoles))
	obs.Warn("authorization denied", map[string]any{
		"user_id":              principal.Subject(),
		"role":                 principal.RoleCode(),
		"permissions":          principal.PermissionList(),
		"required_permissions": requiredPerms,
		"required_roles":       requiredRoles,
		"path":                 r.URL.Path,
		"method":               r.Method,
	})

	code := auth.CodeInsufficientPermissions
	message := "insufficient permissions"
	if len(requiredRoles) > 0 {
		code = auth.CodeInsufficientRole
		message = "insufficient role"
	}
	resp := errorResponse{
		Success:      false,
		ErrorCode:    string(code),
		ErrorMessage: message,
	}
	if !a.opts.Production {
		resp.RequiredPermissions = requiredPerms
		resp.RequiredRoles = requiredRoles
	}
	writeJSON(w, http.StatusForbidden, resp)
}

func denialReason(perms, roles []string) string {
	switch {
	case len(roles) > 0:
		return "role"
	case len(perms) > 0:
		return "permission"
	default:
		return "company_admin"
	}
}

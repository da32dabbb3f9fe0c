package httpapi

import (
	"net/http"
	"strings"

	"carbontrace.io/internal/auth"
	"carbontrace.io/internal/obs"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

// requireAuth resolves the bearer token into a principal or rejects.
// Per-request outcomes, in order:
//
//	no header                    -> MISSING_TOKEN        401
//	header not "Bearer <token>"  -> INVALID_TOKEN_FORMAT 401
//	expired token                -> TOKEN_EXPIRED        401
//	invalid token                -> INVALID_TOKEN        401
//	refresh token presented      -> WRONG_TOKEN_TYPE     401
//	subject gone or deactivated  -> USER_NOT_FOUND       401
//	claimed tenant not active    -> COMPANY_INACTIVE     403
//
// The principal is re-resolved from the directory on every request; token
// claims only establish identity.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		principal, authErr := a.auth.AuthenticateToken(r.Context(), token)
		if authErr != nil {
			if auth.CodeOf(authErr) == auth.CodeSystem {
				obs.Error("token authentication failed", map[string]any{
					"path":  r.URL.Path,
					"error": authErr.Error(),
				})
			}
			writeAuthError(w, authErr)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth performs the same resolution but continues without a principal
// on any failure. For endpoints that personalize output for authenticated
// callers without requiring authentication.
func (a *API) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		principal, authErr := a.auth.AuthenticateToken(r.Context(), token)
		if authErr != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.E(auth.CodeMissingToken, "authorization header is required")
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", auth.E(auth.CodeInvalidTokenFormat, "authorization header must be 'Bearer <token>'")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", auth.E(auth.CodeInvalidTokenFormat, "authorization header must be 'Bearer <token>'")
	}
	return token, nil
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"carbontrace.io/internal/audit"
	"carbontrace.io/internal/auth"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type inspectRequest struct {
	Token string `json:"token"`
}

type userInfo struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	CompanyID    string   `json:"company_id,omitempty"`
	CompanyAdmin bool     `json:"company_admin"`
	AuthMode     string   `json:"auth_mode"`
}

type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	UserInfo     userInfo       `json:"user_info"`
	Meta         map[string]any `json:"meta,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, "email and password are required")
		return
	}

	client := auth.ClientInfo{IP: clientIP(r), UserAgent: r.UserAgent()}
	pair, principal, err := a.auth.Login(r.Context(), req.Email, req.Password, client)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.auth.Tokens().AccessTTL().Seconds()),
		UserInfo:     userInfoFor(principal),
		Meta: map[string]any{
			"issued_at":   time.Now().UTC().Format(time.RFC3339),
			"remember_me": req.RememberMe,
		},
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, "refresh_token is required")
		return
	}

	pair, principal, err := a.auth.Renew(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.auth.Tokens().AccessTTL().Seconds()),
		UserInfo:     userInfoFor(principal),
	})
}

func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, auth.CodeMissingToken, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user_info": userInfoFor(principal),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, auth.CodeMissingToken, "authentication required")
		return
	}
	// Tokens are stateless; logout exists for the audit trail.
	companyID, _ := auth.TenantOf(principal)
	_ = a.sink.LogEvent(r.Context(), audit.Event{
		UserID:     principal.Subject(),
		CompanyID:  companyID,
		Action:     "auth.logout",
		EntityType: "user",
		EntityID:   principal.Subject(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLockoutStatus reports current failure-window counters for an account
// or source IP. SUPERADMIN only; enforcement never reads this path.
func (a *API) handleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if email == "" && ip == "" {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, "email or ip query parameter is required")
		return
	}

	status, err := a.auth.LockoutStatus(r.Context(), email, ip)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"lockout": status,
	})
}

// handleTokenInspect decodes a token without trusting it and reports its
// validation status. Diagnostics for support engineers.
func (a *API) handleTokenInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req inspectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, auth.CodeValidation, err.Error())
		return
	}

	claims, err := a.auth.Tokens().DecodeUnverified(req.Token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	verdict := "valid"
	if _, verr := a.auth.Tokens().Validate(req.Token); verr != nil {
		verdict = string(auth.CodeOf(verr))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"verdict": verdict,
		"claims":  claims,
	})
}

func userInfoFor(p auth.Principal) userInfo {
	info := userInfo{
		ID:           p.Subject(),
		Email:        p.Email(),
		Name:         p.DisplayName(),
		Role:         p.RoleCode(),
		Permissions:  p.PermissionList(),
		CompanyAdmin: auth.IsTenantAdmin(p),
		AuthMode:     "global_admin",
	}
	if companyID, ok := auth.TenantOf(p); ok {
		info.CompanyID = companyID
		info.AuthMode = "tenant_scoped"
	}
	return info
}

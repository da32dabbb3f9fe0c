package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"carbontrace.io/internal/auth"
)

// errorResponse is the uniform failure envelope. error_code values come from
// the auth taxonomy and are stable API contract.
type errorResponse struct {
	Success             bool     `json:"success"`
	ErrorCode           string   `json:"error_code"`
	ErrorMessage        string   `json:"error_message"`
	RetryAfter          string   `json:"retry_after,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredRoles       []string `json:"required_roles,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, code auth.Code, message string) {
	writeJSON(w, status, errorResponse{
		Success:      false,
		ErrorCode:    string(code),
		ErrorMessage: message,
	})
}

// writeAuthError maps a taxonomy error onto its HTTP status and envelope.
// Raw store errors never reach the client; anything unclassified is reported
// as AUTH_SYSTEM_ERROR.
func writeAuthError(w http.ResponseWriter, err error) {
	code := auth.CodeOf(err)
	resp := errorResponse{
		Success:      false,
		ErrorCode:    string(code),
		ErrorMessage: clientMessage(err, code),
	}
	if retry := auth.RetryAfterOf(err); retry > 0 {
		resp.RetryAfter = retry.String()
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())))
	}
	writeJSON(w, statusFor(code), resp)
}

func statusFor(code auth.Code) int {
	switch code {
	case auth.CodeValidation:
		return http.StatusBadRequest
	case auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeAccountInactive, auth.CodeNoActiveTenants, auth.CodeCompanyInactive,
		auth.CodeInsufficientPermissions, auth.CodeInsufficientRole:
		return http.StatusForbidden
	case auth.CodeSystem:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func clientMessage(err error, code auth.Code) string {
	if code == auth.CodeSystem {
		// Internal detail stays server-side.
		return "authentication system error"
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "request rejected"
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeFailure(w, http.StatusMethodNotAllowed, auth.CodeValidation, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Store-level sentinels. The service maps these to taxonomy errors before
// anything crosses the package boundary.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Code is a stable machine-readable error code. Codes are part of the API
// contract and never change independently of it.
type Code string

const (
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeInvalidCredentials      Code = "INVALID_CREDENTIALS"
	CodeRateLimited             Code = "RATE_LIMIT_EXCEEDED"
	CodeAccountInactive         Code = "ACCOUNT_INACTIVE"
	CodeNoActiveTenants         Code = "NO_ACTIVE_TENANTS"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeWrongTokenType          Code = "WRONG_TOKEN_TYPE"
	CodeMissingToken            Code = "MISSING_TOKEN"
	CodeInvalidTokenFormat      Code = "INVALID_TOKEN_FORMAT"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeCompanyInactive         Code = "COMPANY_INACTIVE"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeInsufficientRole        Code = "INSUFFICIENT_ROLE"
	CodeSystem                  Code = "AUTH_SYSTEM_ERROR"
)

// Error carries a taxonomy code alongside the human-readable message.
// Callers branch on the code with CodeOf or errors.As, never on message text.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E constructs a taxonomy error.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches an underlying cause to a taxonomy error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the taxonomy code from err. Unclassified errors are
// reported as AUTH_SYSTEM_ERROR so unexpected failures always deny.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeSystem
}

// RetryAfterOf returns the retry hint carried by a rate-limit error, or zero.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// errInvalidCredentials is shared so unknown-email and wrong-password
// failures are indistinguishable to callers.
var errInvalidCredentials = E(CodeInvalidCredentials, "invalid email or password")

// systemError classifies an unexpected internal failure, preserving the cause
// for server-side logs while the client sees only the generic code.
func systemError(err error) *Error {
	return Wrap(CodeSystem, "authentication system error", err)
}

// Package apperr defines the closed set of error kinds the service can surface to clients.
//
// Services return *Error values (usually one of the sentinels below, optionally wrapped with a
// cause); the HTTP layer turns the Kind into a status code in a single place.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Error is the canonical service error.
//
// Code is machine readable and stable, Message is safe to show to clients.
// Cause is kept for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code so a wrapped sentinel still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap returns a copy of e carrying cause.
func Wrap(e *Error, cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Cause: cause}
}

// WithMessage returns a copy of e with a more specific client-safe message.
func WithMessage(e *Error, message string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: message, Cause: e.Cause}
}

// Validation creates a 400-class error with a custom message.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_ERROR", message)
}

// Internal wraps an unexpected error.
func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "An unexpected error occurred",
		Cause:   cause,
	}
}

// As extracts the *Error from err's chain. Errors outside the taxonomy become Internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	return As(err).Kind
}

// Credential and session errors.
var (
	ErrInvalidCredentials = New(KindAuthentication, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrInvalidToken       = New(KindAuthentication, "INVALID_TOKEN", "Invalid token")
	ErrTokenExpired       = New(KindAuthentication, "TOKEN_EXPIRED", "Token has expired")
	ErrTokenRevoked       = New(KindAuthentication, "TOKEN_REVOKED", "Token has been revoked")

	ErrPendingApproval = New(KindAuthorization, "PENDING_APPROVAL", "Client is pending approval")
	ErrClientSuspended = New(KindAuthorization, "CLIENT_SUSPENDED", "Client is suspended")
	ErrAccountDisabled = New(KindAuthorization, "ACCOUNT_DISABLED", "Account is not active")
	ErrForbidden       = New(KindAuthorization, "FORBIDDEN", "Insufficient permissions")

	ErrUserNotFound   = New(KindNotFound, "USER_NOT_FOUND", "User not found")
	ErrClientNotFound = New(KindNotFound, "CLIENT_NOT_FOUND", "Client not found")

	ErrEmailTaken          = New(KindConflict, "EMAIL_TAKEN", "User with this email already exists")
	ErrInvalidTransition   = New(KindConflict, "INVALID_TRANSITION", "Client status transition is not allowed")
	ErrTwoFactorEnabled    = New(KindConflict, "TWO_FACTOR_ALREADY_ENABLED", "Two-factor authentication is already enabled")
	ErrQuotaExceeded       = New(KindTooManyRequests, "QUOTA_EXCEEDED", "Client usage quota exceeded")
	ErrRateLimited         = New(KindTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
	ErrInvalidTwoFactor    = New(KindValidation, "INVALID_TWO_FACTOR_CODE", "Invalid two-factor authentication code")
	ErrTwoFactorDisabled   = New(KindValidation, "TWO_FACTOR_NOT_ENABLED", "Two-factor authentication is not enabled")
	ErrTwoFactorCodeNeeded = New(KindValidation, "TWO_FACTOR_CODE_REQUIRED", "Two-factor authentication code is required")
)

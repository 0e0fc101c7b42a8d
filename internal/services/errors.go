package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags every rejection produced by the access-control core. All kinds
// are terminal for the current request; nothing is retried here.
type Kind string

const (
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindTwoFactorRequired  Kind = "TWO_FACTOR_REQUIRED"
	KindAccountLocked      Kind = "ACCOUNT_LOCKED"
	KindTenantInaccessible Kind = "TENANT_INACCESSIBLE"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindForbidden          Kind = "FORBIDDEN"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindConflict           Kind = "CONFLICT"
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
)

// AuthError is the tagged rejection type crossing the access-control
// boundary. Message is safe to show to the caller; the wrapped error carries
// internal detail for logging only.
type AuthError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches on kind so sentinel comparisons work through wrapping.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// HTTPStatus maps the kind to a client-facing status code.
func (e *AuthError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidCredentials, KindTwoFactorRequired, KindAccountLocked, KindInvalidToken, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindTenantInaccessible, KindForbidden:
		return http.StatusForbidden
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Sentinels for errors.Is checks. Messages are deliberately generic: the
// caller never learns whether the email or the password was wrong, nor how
// long a lockout has left.
var (
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials, Message: "incorrect email or password"}
	ErrTwoFactorRequired  = &AuthError{Kind: KindTwoFactorRequired, Message: "two-factor code required"}
	ErrAccountLocked      = &AuthError{Kind: KindAccountLocked, Message: "account is temporarily locked or inactive"}
	ErrTenantInaccessible = &AuthError{Kind: KindTenantInaccessible, Message: "school subscription has expired or is inactive"}
	ErrInvalidToken       = &AuthError{Kind: KindInvalidToken, Message: "invalid or expired token"}
	ErrUnauthenticated    = &AuthError{Kind: KindUnauthenticated, Message: "not authenticated"}
	ErrForbidden          = &AuthError{Kind: KindForbidden, Message: "insufficient permissions"}
	ErrServiceUnavailable = &AuthError{Kind: KindServiceUnavailable, Message: "service temporarily unavailable"}
)

// fail builds a kinded error wrapping internal detail.
func fail(kind Kind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// AsAuthError extracts the AuthError from err, if any.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure so the route layer can pick a response without
// the core knowing anything about HTTP.
type Kind int

const (
	KindAuthentication Kind = iota + 1
	KindAuthorization
	KindTooManyAttempts
	KindNotFound
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindTooManyAttempts:
		return "too_many_attempts"
	case KindNotFound:
		return "not_found"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

var (
	ErrAuthentication  = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrAuthorization   = &Error{Kind: KindAuthorization, Message: "insufficient permissions"}
	ErrTooManyAttempts = &Error{Kind: KindTooManyAttempts, Message: "too many attempts"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrStore           = &Error{Kind: KindStore, Message: "store unavailable"}

	// ErrInvalidToken is returned by the token issuer for every rejected token.
	ErrInvalidToken = errors.New("invalid token")
)

// Error is the single error type returned by the auth core.
type Error struct {
	Kind    Kind
	Message string
	// Required names the missing role or permission for authorization failures.
	Required string
	// RetryAfter is set on lockout failures.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Kind.String() + ": " + e.Message
	if e.Required != "" {
		msg += fmt.Sprintf(" (requires %s)", e.Required)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrAuthentication)
// works for every authentication failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func AuthenticationError(message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Err: cause}
}

func AuthorizationError(required string) *Error {
	return &Error{Kind: KindAuthorization, Message: "insufficient permissions", Required: required}
}

func TooManyAttemptsError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyAttempts, Message: "too many failed attempts, try again later", RetryAfter: retryAfter}
}

func NotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func StoreError(op string, cause error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: cause}
}

// KindOf reports the kind of err, or 0 when err did not come from the core.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

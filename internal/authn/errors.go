package authn

import (
	"context"
	"errors"
	"fmt"

	"identity-service/internal/auth"
	"identity-service/internal/password"
	"identity-service/internal/users"
)

// Kind tags the failure side of every AuthService result.
type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindConflict     Kind = "CONFLICT"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindNotFound     Kind = "NOT_FOUND"
	KindSigning      Kind = "SIGNING_ERROR"
	KindStorage      Kind = "STORAGE_ERROR"
	KindTimeout      Kind = "TIMEOUT"
	KindRateLimited  Kind = "RATE_LIMITED"
)

// Error is what every Service operation returns on failure.
// Message is safe to show to the caller; Err carries the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotifyFailed marks a notifier failure that did not undo the operation.
var ErrNotifyFailed = errors.New("authn: notification not delivered")

const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidSession     = "invalid or expired session"
	msgInternal           = "something went wrong, please try again"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, users.ErrConflict):
		return KindConflict
	case errors.Is(err, users.ErrNotFound):
		return KindNotFound
	case errors.Is(err, users.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, auth.ErrSigning):
		return KindSigning
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, users.ErrStaleToken):
		return KindUnauthorized
	case errors.Is(err, password.ErrEmptyInput):
		return KindInvalidInput
	default:
		return KindStorage
	}
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func invalidInput(msg string) *Error { return newError(KindInvalidInput, msg, nil) }

func unauthorized(msg string, cause error) *Error { return newError(KindUnauthorized, msg, cause) }

// wrap turns an infrastructure error into an *Error with a caller-safe message.
func wrap(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	switch kind {
	case KindConflict:
		return newError(kind, "an account with this email already exists", err)
	case KindNotFound:
		return newError(kind, "account not found", err)
	case KindUnauthorized:
		return newError(kind, msgInvalidSession, err)
	case KindInvalidInput:
		return newError(kind, "invalid input", err)
	case KindTimeout:
		return newError(kind, "the request timed out, please try again", err)
	default:
		return newError(kind, msgInternal, err)
	}
}

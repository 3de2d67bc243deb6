package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error classes the control plane
// distinguishes. The gateway maps each kind to an HTTP status; nothing
// outside this set ever reaches a response body.
type ErrorKind string

const (
	KindAuthMissing       ErrorKind = "auth_missing"
	KindAuthInvalid       ErrorKind = "auth_invalid"
	KindValidation        ErrorKind = "validation"
	KindSessionNotFound   ErrorKind = "session_not_found"
	KindRateLimited       ErrorKind = "rate_limited"
	KindOrchestratorError ErrorKind = "orchestrator_error"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindInternal          ErrorKind = "internal"
)

// Error is a typed control-plane error. It wraps an optional cause so
// callers can classify with KindOf while logs keep the full chain.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a typed error wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies any error. Untyped errors are Internal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// Convenience constructors for the common kinds.

func ValidationError(format string, args ...any) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...))
}

func SessionNotFound(uuid string) *Error {
	return NewError(KindSessionNotFound, fmt.Sprintf("session %s not found", uuid))
}

func StoreUnavailable(err error) *Error {
	return WrapError(KindStoreUnavailable, "store unavailable", err)
}

func OrchestratorError(op string, err error) *Error {
	return WrapError(KindOrchestratorError, fmt.Sprintf("orchestrator %s failed", op), err)
}

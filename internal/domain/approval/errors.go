package approval

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindNotAuthorized Kind = "NOT_AUTHORIZED"
	KindInvalidState  Kind = "INVALID_STATE"
	KindValidation    Kind = "VALIDATION"
	KindConflict      Kind = "CONFLICT"
)

// Error is a failure result carrying a kind and a human-readable message.
// Capability is set for NOT_AUTHORIZED errors.
type Error struct {
	Kind       Kind
	Message    string
	Capability string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrNotFound is returned when a referenced request, step or policy is absent
	ErrNotFound = &Error{Kind: KindNotFound}

	// ErrNotAuthorized is returned when a capability check denies the caller
	ErrNotAuthorized = &Error{Kind: KindNotAuthorized}

	// ErrInvalidState is returned for transitions the current state does not allow
	ErrInvalidState = &Error{Kind: KindInvalidState}

	// ErrValidation is returned for malformed input
	ErrValidation = &Error{Kind: KindValidation}

	// ErrConflict is returned when a stored request changed since it was read
	ErrConflict = &Error{Kind: KindConflict}
)

// NewError builds an Error of the given kind
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotAuthorized builds a NOT_AUTHORIZED error carrying the denial reason
func NotAuthorized(capability, reason string) *Error {
	return &Error{Kind: KindNotAuthorized, Message: reason, Capability: capability}
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the message of an *Error without its kind prefix
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

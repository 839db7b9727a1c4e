package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible category of a failure.
type Kind string

const (
	KindInternal               Kind = "internal_error"
	KindValidation             Kind = "validation_error"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindShiftAlreadyOpen       Kind = "shift_already_open"
	KindShiftAlreadyClosed     Kind = "shift_already_closed"
	KindShiftNotOpen           Kind = "shift_not_open"
	KindTimeout                Kind = "timeout"
	KindConflict               Kind = "transaction_conflict"
	KindNotFound               Kind = "not_found"
	KindForbidden              Kind = "forbidden"
	KindIntegrity              Kind = "integrity_error"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrShiftAlreadyOpen       = &Error{Kind: KindShiftAlreadyOpen}
	ErrShiftAlreadyClosed     = &Error{Kind: KindShiftAlreadyClosed}
	ErrShiftNotOpen           = &Error{Kind: KindShiftNotOpen}
	ErrTimeout                = &Error{Kind: KindTimeout}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrIntegrity              = &Error{Kind: KindIntegrity}
)

// Error carries a Kind and a human-readable message, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(KindInvalidStateTransition, format, args...)
}

func Forbidden(action string) *Error {
	return New(KindForbidden, "not allowed to %s", action)
}

// KindOf returns the Kind of the first *Error in err's chain.
// Context deadlines map to KindTimeout; anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsTransient reports whether the operation may succeed when retried.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConflict:
		return true
	default:
		return false
	}
}

// Message returns the human-readable part of err suitable for clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// Package apperr defines the error kinds surfaced by the game services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the transport layer.
type Kind int

const (
	Internal Kind = iota
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindValidation
	KindUnavailable
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error carries a kind, the failing operation and a human message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing record, or one not owned by the caller.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

// InvalidState reports a write against a record in the wrong lifecycle state.
func InvalidState(op, msg string) error {
	return &Error{Kind: KindInvalidState, Op: op, Message: msg}
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(op, msg string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: msg}
}

// Forbidden reports a known caller lacking a required role.
func Forbidden(op, msg string) error {
	return &Error{Kind: KindForbidden, Op: op, Message: msg}
}

// Validation reports malformed input rejected before the store is touched.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// Unavailable wraps an infrastructure failure the caller may retry.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Message: "storage unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the human-readable message of err for clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// Classify returns err unchanged if it already carries a kind and wraps it
// as Unavailable otherwise. Used on errors leaving a store transaction.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Unavailable(op, err)
}

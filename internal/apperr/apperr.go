// Package apperr classifies errors by the taxonomy in spec §7 so HTTP
// handlers can map them to status codes without string matching.
package apperr

import "errors"

// Kind discriminates the error categories named in spec §7.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindFatal        Kind = "fatal"
)

// Error wraps an underlying cause with a taxonomy Kind and an optional
// user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation constructs a validation-kind error.
func Validation(message string) *Error { return New(KindValidation, message) }

// NotFound constructs a not-found-kind error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Precondition constructs a precondition-kind error.
func Precondition(message string) *Error { return New(KindPrecondition, message) }

// KindOf extracts the Kind of err, if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Package apperrors defines the error taxonomy shared by the authorization
// and approval-workflow packages. Every caller-facing failure is one of five
// kinds so HTTP handlers and clients can dispatch on kind instead of matching
// error strings.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	// KindValidation marks malformed input (unknown capability code,
	// justification too short). Not retryable without changing the input.
	KindValidation Kind = "validation"

	// KindNotFound marks a missing role, request, grant, or capability.
	KindNotFound Kind = "not_found"

	// KindForbidden marks an authorization denial: missing capability,
	// insufficient approval level, or self-review/self-execute.
	KindForbidden Kind = "forbidden"

	// KindConflict marks an illegal state transition or a lost
	// compare-and-swap race. Retryable only after re-reading state.
	KindConflict Kind = "conflict"

	// KindTransient marks storage or executor unavailability. The whole
	// operation is safe to retry.
	KindTransient Kind = "transient"
)

// Error is a classified error with structured detail for the caller.
type Error struct {
	Kind    Kind
	Message string

	// Details carries machine-readable context: the missing capability
	// code, required vs actual approval level, current request status.
	Details map[string]string

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value detail pair and returns the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or an empty Kind when err is not
// classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the structured details of err, or nil.
func DetailsOf(err error) map[string]string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}

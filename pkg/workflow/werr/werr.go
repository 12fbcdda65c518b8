// Package werr defines the typed error taxonomy of the workflow. Errors
// crossing the message bus are werr values, never opaque strings; the
// outermost caller (HTTP handler or conversation agent) owns the
// user-facing presentation.
package werr

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow error.
type Kind string

const (
	// KindBadRequest means input violated a precondition (wrong phase,
	// upload while busy). Surfaces as 4xx.
	KindBadRequest Kind = "bad_request"

	// KindBusy means the chat single-flight guard is held. Surfaces as
	// 503 with an explicit busy status.
	KindBusy Kind = "busy"

	// KindTimeout means an external dependency exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindDependencyFailed means converter/validator/LLM/reporter
	// returned an error.
	KindDependencyFailed Kind = "dependency_failed"

	// KindNoProgress means a retry was requested but nothing changed
	// since the last attempt and retry_anyway was not set.
	KindNoProgress Kind = "no_progress"

	// KindFatal means an invariant was violated (e.g. an attempt to
	// overwrite an existing output version). The session is not mutated
	// further.
	KindFatal Kind = "fatal"
)

// Error is a typed workflow error. Context carries diagnostic key/values
// for logging and for the LLM explanation helper.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New creates a typed workflow error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap wraps an underlying error with a workflow kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Wrapped: err}
}

// WithContext attaches a diagnostic key/value and returns the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the workflow kind from an error chain. Unclassified
// errors report KindDependencyFailed so nothing is ever swallowed as ok.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindDependencyFailed
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	var we *Error
	return errors.As(err, &we) && we.Kind == kind
}

// Package ragerr defines the error-kind taxonomy shared across the
// memory service: every documented failure is a tagged variant of this
// type rather than a distinct Go error type, so callers can switch on
// Kind without an ever-growing set of sentinel checks.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindSchemaMismatch    Kind = "schema_mismatch"
	KindResourceExhausted Kind = "resource_exhausted"
	KindTimeout           Kind = "timeout"
	KindTransportError    Kind = "transport_error"
	KindEmbeddingFailed   Kind = "embedding_failed"
	KindParseFailed       Kind = "parse_failed"
	KindReadOnly          Kind = "read_only"
	KindConflict          Kind = "conflict"
)

// Error carries a Kind, a wrapped cause, and structured context fields
// so messages stay actionable without leaking secrets.
type Error struct {
	Kind    Kind
	Message string
	Project string
	File    string
	ID      string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Project != "" {
		msg = fmt.Sprintf("%s (project=%s)", msg, e.Project)
	}
	if e.File != "" {
		msg = fmt.Sprintf("%s (file=%s)", msg, e.File)
	}
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ragerr.Sentinel(kind)) work.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindSentinel)
	if !ok {
		return false
	}
	return e.Kind == k.kind
}

// kindSentinel lets callers write errors.Is(err, ragerr.Sentinel(ragerr.KindNotFound)).
type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return string(k.kind) }

// Sentinel returns a comparable error for use with errors.Is.
func Sentinel(kind Kind) error { return &kindSentinel{kind: kind} }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithProject, WithFile, WithID attach context fields and return the
// same error for chaining at the call site.
func (e *Error) WithProject(project string) *Error { e.Project = project; return e }
func (e *Error) WithFile(file string) *Error       { e.File = file; return e }
func (e *Error) WithID(id string) *Error           { e.ID = id; return e }

// KindOf extracts the Kind of err if it is (or wraps) a *ragerr.Error.
// Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is a ragerr.Error of the given kind. Convenience
// wrapper over errors.Is(err, Sentinel(kind)) for call sites that only
// need a boolean.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

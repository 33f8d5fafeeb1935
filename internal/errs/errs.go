// Package errs classifies application errors into kinds so callers can
// pick a propagation policy per kind: transient venue errors are logged
// and retried, validation errors abort startup, invariant violations
// fail fast.
package errs

import (
	"errors"
	"fmt"
)

// Kind labels the handling class of an error.
type Kind int

const (
	// KindTransient covers venue/network failures. Retryable.
	KindTransient Kind = iota
	// KindValidation covers malformed configuration and unknown
	// identifiers. Raised at construction time, never retried.
	KindValidation
	// KindInvariant covers economic precondition violations, e.g.
	// selling with zero held amount.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvariant:
		return "invariant"
	default:
		return "transient"
	}
}

// Error is an error with a handling kind attached.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable error.
func Transient(format string, args ...any) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a fail-fast configuration error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Invariant builds an economic precondition violation.
func Invariant(format string, args ...any) error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err. Unclassified errors are treated as
// transient, matching the poll-loop catch-all of the live pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool { return is(err, KindInvariant) }

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

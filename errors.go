package tampi

import (
	"errors"
	"fmt"
)

// FaultClass categorizes a fatal condition per the error handling design:
// configuration, state, capacity, library and unexpected-shape errors are
// each handled the same way (abort), but distinguished for diagnostics.
type FaultClass string

const (
	ClassConfiguration  FaultClass = "configuration"
	ClassState          FaultClass = "state"
	ClassCapacity       FaultClass = "capacity"
	ClassLibrary        FaultClass = "library"
	ClassUnexpectedShape FaultClass = "unexpected shape"
)

// Error is TAMPI's structured error type: which operation failed, which
// ticket manager instance and language it belongs to, its fault class, a
// human-readable message, and whatever error it wraps.
type Error struct {
	Op    string
	Lang  string // "C" or "Fortran"; empty when not applicable
	Class FaultClass
	Msg   string
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Lang != "" {
		return fmt.Sprintf("tampi: %s (op=%s lang=%s class=%s)", e.Msg, e.Op, e.Lang, e.Class)
	}
	return fmt.Sprintf("tampi: %s (op=%s class=%s)", e.Msg, e.Op, e.Class)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error of the same FaultClass.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == te.Class
}

// NewError builds an *Error with no wrapped cause.
func NewError(op string, class FaultClass, msg string) *Error {
	return &Error{Op: op, Class: class, Msg: msg}
}

// WrapError builds an *Error wrapping inner, which is typically an error
// returned by a transport.Transport implementation.
func WrapError(op string, class FaultClass, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Class: class, Msg: inner.Error(), Inner: inner}
}

// WithLang returns a copy of e with Lang set, for shims that know which
// language binding (C or Fortran) triggered the fault.
func (e *Error) WithLang(lang string) *Error {
	cp := *e
	cp.Lang = lang
	return &cp
}

// IsClass reports whether err is a *Error of the given class.
func IsClass(err error, class FaultClass) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Class == class
	}
	return false
}

// Operation names used as Error.Op, matching the public entry points in
// tampi.go.
const (
	OpInit       = "Init"
	OpFinalize   = "Finalize"
	OpIssue      = "Issue"
	OpIssueColl  = "IssueCollective"
	OpIwait      = "Iwait"
	OpIwaitall   = "Iwaitall"
)

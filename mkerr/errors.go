// Package mkerr defines the error taxonomy of mkplan. Each error carries a
// [Kind] that tells the planner whether a run can be retried as is, after the
// user fixed some input or not at all. Errors created here carry a stack trace
// and bulk diagnostics are collected in a [MultiError].
package mkerr

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type Kind int

const (
	// A bad or missing setting. Aborts before any step runs.
	Configuration Kind = iota + 1
	// Ambiguous or missing dependencies or symbols. Retryable after the
	// input was fixed.
	Resolution
	// Nonzero exit, timeout, cancellation or interruption of an external
	// process. Retryable.
	ProcessExecution
	// Filesystem failure on an ingredient. Retryable.
	IO
	// A defect, e.g. re-resolving a resolved file set. Never retried.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Resolution:
		return "resolution error"
	case ProcessExecution:
		return "process execution error"
	case IO:
		return "I/O error"
	case Invariant:
		return "invariant violation"
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Retryable reports whether a run failing with an error of kind k may simply
// be run again.
func (k Kind) Retryable() bool {
	return k == ProcessExecution || k == IO || k == Resolution
}

var (
	ErrConfiguration    = kindSentinel(Configuration)
	ErrResolution       = kindSentinel(Resolution)
	ErrProcessExecution = kindSentinel(ProcessExecution)
	ErrIO               = kindSentinel(IO)
	ErrInvariant        = kindSentinel(Invariant)
)

type kindSentinel Kind

func (s kindSentinel) Error() string { return Kind(s).String() }

// Error is an error of a specific [Kind].
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Msg == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if s, ok := target.(kindSentinel); ok {
		return Kind(s) == e.Kind
	}
	return false
}

// New creates an error of kind k with a stack trace.
func New(k Kind, format string, args ...any) error {
	return goerrors.Wrap(&Error{Kind: k, Msg: fmt.Sprintf(format, args...)}, 1)
}

// Wrap classifies err as kind k and adds a stack trace. It returns nil if err
// is nil.
func Wrap(k Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var msg string
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return goerrors.Wrap(&Error{Kind: k, Msg: msg, Err: err}, 1)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsKind(err error, k Kind) bool {
	return errors.Is(err, kindSentinel(k))
}

// Errorf creates a new unclassified error with a stack trace.
func Errorf(format string, args ...any) error {
	return goerrors.Wrap(fmt.Errorf(format, args...), 1)
}

// WithStackTrace wraps err with a stack trace unless it already has one.
// Returns nil if err is nil.
func WithStackTrace(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// ErrorStack returns the message of err followed by the call stack.
func ErrorStack(err error) string {
	if err == nil {
		return ""
	}
	var gerr *goerrors.Error
	if errors.As(err, &gerr) {
		return gerr.ErrorStack()
	}
	return goerrors.Wrap(err, 1).ErrorStack()
}

// Recover converts a panic into an invariant violation passed to onPanic.
// Must be called from a defer statement.
func Recover(onPanic func(cause error)) {
	if rec := recover(); rec != nil {
		err, ok := rec.(error)
		if !ok {
			err = fmt.Errorf("%v", rec)
		}
		if !IsKind(err, Invariant) {
			err = &Error{Kind: Invariant, Msg: "panic", Err: err}
		}
		onPanic(goerrors.Wrap(err, 2))
	}
}

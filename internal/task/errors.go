package task

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition indicates a state-machine edge that is not permitted.
// It signals a caller bug; the task is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrorKind classifies a task failure for retry and audit purposes.
type ErrorKind string

const (
	KindInvalidPayload ErrorKind = "INVALID_PAYLOAD" // schema mismatch, no retry
	KindNoHandler      ErrorKind = "NO_HANDLER"      // no handler for action type
	KindTimeout        ErrorKind = "TIMEOUT"         // handler exceeded its budget, retryable
	KindTransient      ErrorKind = "TRANSIENT"       // handler-signalled retryable failure
	KindPermanent      ErrorKind = "PERMANENT"       // handler-signalled non-retryable failure
	KindShuttingDown   ErrorKind = "SHUTTING_DOWN"   // forced terminal during drain
)

// Error is a classified task failure.
type Error struct {
	Kind ErrorKind
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

// Retryable reports whether the failure kind is eligible for retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindTransient
}

// NewError builds a classified task error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a classified task error around an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Classify coerces any error into a *Error. Unclassified errors are
// treated as permanent: retrying an unknown failure is worse than
// surfacing it.
func Classify(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindPermanent, Msg: err.Error(), Err: err}
}

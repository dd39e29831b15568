package stream

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrLaunchFailure    = errors.New("launch failure")
	ErrReadinessTimeout = errors.New("readiness timeout")
	ErrProcessCrashed   = errors.New("process crashed")
	ErrNotFound         = errors.New("not found")

	// ErrJobBusy means another producer holds the job directory lease.
	ErrJobBusy = errors.New("job directory is held by another producer")
)

// Error is a classified job failure. Kind is one of the sentinels above and
// Details carries diagnostic output from the transcoder, when any.
type Error struct {
	Kind    error
	Message string
	Details string
	Err     error
}

// NewError builds a classified error.
func NewError(kind error, message, details string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: strings.TrimSpace(message),
		Details: strings.TrimSpace(details),
		Err:     cause,
	}
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Details returns the diagnostic detail attached to err, if any.
func Details(err error) string {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Details
	}
	return ""
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var jobErr *Error
	if errors.As(err, &jobErr) && jobErr.Message != "" {
		return jobErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

package checkin

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes where a checkin attempt failed
type ErrorKind string

const (
	// ErrorKindTransport means the checkin round trip itself failed
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindPersistence means the round trip succeeded but the result could not be saved
	ErrorKindPersistence ErrorKind = "persistence"
)

var (
	// ErrTransport matches any transport failure via errors.Is
	ErrTransport = errors.New("checkin transport failed")
	// ErrPersistence matches any persistence failure via errors.Is
	ErrPersistence = errors.New("checkin credential persistence failed")
)

// Error is delivered to every handler waiting on a failed attempt
type Error struct {
	Kind    ErrorKind
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindPersistence:
		return fmt.Sprintf("checkin attempt %d: failed to persist credential: %v", e.Attempt, e.Err)
	default:
		return fmt.Sprintf("checkin attempt %d: transport failed: %v", e.Attempt, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against ErrTransport or ErrPersistence
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == ErrorKindTransport
	case ErrPersistence:
		return e.Kind == ErrorKindPersistence
	}
	return false
}

func newTransportError(attempt int, err error) *Error {
	return &Error{Kind: ErrorKindTransport, Attempt: attempt, Err: err}
}

func newPersistenceError(attempt int, err error) *Error {
	return &Error{Kind: ErrorKindPersistence, Attempt: attempt, Err: err}
}

// KindOf returns the kind of a checkin error, or "" if err is not one
func KindOf(err error) ErrorKind {
	var checkinErr *Error
	if errors.As(err, &checkinErr) {
		return checkinErr.Kind
	}
	return ""
}

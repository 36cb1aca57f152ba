// Package errkind classifies the error kinds named in the core's error
// handling design: client-facing operations never surface an internal
// error verbatim, they classify it into one of these kinds for logging
// and, where useful, for the caller's own branching.
package errkind

import "errors"

// Kind is one of the five error kinds the core distinguishes.
type Kind int

const (
	Internal Kind = iota
	TransientNetwork
	ClientProtocolViolation
	InvalidState
	CapacityExceeded
)

func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient_network"
	case ClientProtocolViolation:
		return "client_protocol_violation"
	case InvalidState:
		return "invalid_state"
	case CapacityExceeded:
		return "capacity_exceeded"
	default:
		return "internal"
	}
}

// Error wraps a cause with a classification kept for structured logging.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

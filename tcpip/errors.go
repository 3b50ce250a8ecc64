// Package tcpip defines the shared types used across the stack: typed
// errors, endpoint addressing, sequence-number arithmetic, and the external
// collaborator interfaces (Buffer, Clock, congestion control) spec.md §6
// treats as injected dependencies rather than part of the core.
package tcpip

import "github.com/pkg/errors"

// Kind names one of the POSIX-aligned error classes spec.md §7 requires.
type Kind int

const (
	// ENotConn: operation requires Established; socket is elsewhere.
	ENotConn Kind = iota
	// EInval: illegal state transition (e.g. listen without bind).
	EInval
	// EConnRefused: RST during active open.
	EConnRefused
	// ETimedOut: handshake or retransmit budget exceeded.
	ETimedOut
	// EConnReset: RST on an established connection.
	EConnReset
	// ENotSup: close() on an already-Closing socket.
	ENotSup
	// EAgain: transient queue-full backpressure.
	EAgain
)

func (k Kind) String() string {
	switch k {
	case ENotConn:
		return "ENOTCONN"
	case EInval:
		return "EINVAL"
	case EConnRefused:
		return "ECONNREFUSED"
	case ETimedOut:
		return "ETIMEDOUT"
	case EConnReset:
		return "ECONNRESET"
	case ENotSup:
		return "ENOTSUP"
	case EAgain:
		return "EAGAIN"
	default:
		return "EUNKNOWN"
	}
}

// Error is the typed error returned by every fallible operation in this
// module. It carries a Kind plus, where available, a wrapped cause
// (constructed with github.com/pkg/errors so the cause chain survives
// errors.Cause/errors.Unwrap across the CB -> socket -> caller boundary).
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Op + ": " + e.Kind.String() + ": " + e.err.Error()
	}
	return e.Op + ": " + e.Kind.String()
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// NewError builds a bare typed error with no wrapped cause.
func NewError(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// WrapError builds a typed error that wraps cause, using pkg/errors so a
// stack trace is captured at the wrap site in debug builds.
func WrapError(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, err: errors.Wrap(cause, kind.String())}
}

// Is reports whether err is a *Error of the given Kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == kind
}

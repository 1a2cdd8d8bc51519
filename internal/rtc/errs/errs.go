// Package errs defines the SFU worker core's error taxonomy.
//
// Errors are values, not exceptions: every fallible operation in the core
// returns a plain error, and callers that need to branch on severity use
// Kind() rather than type assertions on concrete error types.
package errs

import "fmt"

// Kind classifies an error by how far it is allowed to propagate.
type Kind int

const (
	// KindParse marks a malformed RTP/RTCP input. Fatal to the packet only.
	KindParse Kind = iota
	// KindType marks a control-channel request with the wrong shape.
	KindType
	// KindInvariant marks an operation that would violate a core invariant
	// (duplicate SSRC, oversized message, negative rate). The operation is
	// refused and state is left unchanged.
	KindInvariant
	// KindResourceExhausted marks local resource pressure (send buffer full,
	// MTU exceeded, retransmission buffer eviction collisions).
	KindResourceExhausted
	// KindFatal marks unrecoverable transport state. Escalates to transport
	// close.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindType:
		return "type"
	case KindInvariant:
		return "invariant"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried through the core.
type Error struct {
	kind    Kind
	op      string
	err     error
	Notify  string // non-empty for KindResourceExhausted: the event name to notify the owning consumer with
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.op, e.kind, e.err)
	}
	return fmt.Sprintf("%s: %s", e.op, e.kind)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's severity class.
func (e *Error) Kind() Kind { return e.kind }

// New builds an Error of the given kind for operation op, wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{kind: kind, op: op, err: cause}
}

// Parse builds a KindParse error.
func Parse(op string, cause error) *Error { return New(KindParse, op, cause) }

// Invariant builds a KindInvariant error.
func Invariant(op string, cause error) *Error { return New(KindInvariant, op, cause) }

// Fatal builds a KindFatal error.
func Fatal(op string, cause error) *Error { return New(KindFatal, op, cause) }

// ResourceExhausted builds a KindResourceExhausted error carrying the
// notification event name that should be emitted to the owning consumer
// (e.g. "sctpsendbufferfull").
func ResourceExhausted(op string, cause error, notify string) *Error {
	return &Error{kind: KindResourceExhausted, op: op, err: cause, Notify: notify}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}

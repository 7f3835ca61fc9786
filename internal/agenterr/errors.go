// Package agenterr implements the error taxonomy of spec.md §7: every
// failure on the wire collapses into one envelope, but callers on both
// sides still want to `errors.Is` against a taxonomy member, so each
// member is also a distinct Go error type.
package agenterr

import "fmt"

// Class identifies which of the five taxonomy members an error belongs
// to.
type Class string

const (
	ClassProtocol   Class = "protocol"
	ClassResolution Class = "resolution"
	ClassInvocation Class = "invocation"
	ClassState      Class = "state"
	ClassTransport  Class = "transport"
)

// Error is the common shape every taxonomy member implements.
type Error struct {
	Class   Class
	Message string
	Stack   string
}

func (e *Error) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Class, e.Message, e.Stack)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Class == "" || t.Class == e.Class
}

func Protocol(format string, args ...any) *Error {
	return &Error{Class: ClassProtocol, Message: fmt.Sprintf(format, args...)}
}

func Resolution(format string, args ...any) *Error {
	return &Error{Class: ClassResolution, Message: fmt.Sprintf(format, args...)}
}

func Invocation(message, stack string) *Error {
	return &Error{Class: ClassInvocation, Message: message, Stack: stack}
}

func State(format string, args ...any) *Error {
	return &Error{Class: ClassState, Message: fmt.Sprintf(format, args...)}
}

func Transport(format string, args ...any) *Error {
	return &Error{Class: ClassTransport, Message: fmt.Sprintf(format, args...)}
}

// Sentinels usable with errors.Is(err, agenterr.ErrProtocol) etc.,
// matching only on Class.
var (
	ErrProtocol   = &Error{Class: ClassProtocol}
	ErrResolution = &Error{Class: ClassResolution}
	ErrInvocation = &Error{Class: ClassInvocation}
	ErrState      = &Error{Class: ClassState}
	ErrTransport  = &Error{Class: ClassTransport}
)

// ErrMoved is the specific state error spec.md §4.5/§8 calls out: the
// pinned object's address no longer matches the expected method-table
// coordinate and a snapshot refresh is required before retrying.
var ErrMoved = State("object moved or invalid")

// ErrObjectDisposed is returned by a released/disconnected proxy on any
// member access (spec.md §7 "User-visible failure behaviour").
var ErrObjectDisposed = State("object disposed")

// ErrNotPinned is returned when a token has no live pin entry and
// address+method-table recovery also fails.
var ErrNotPinned = State("token not pinned")

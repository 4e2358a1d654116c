package interp

import (
	"fmt"

	"github.com/openrigd/rigd/dsl/token"
)

// Kind enumerates the ways a command, init block, or status poll can fail
// at runtime. Distinct from sema.Diagnostic: sema catches problems before
// a byte ever reaches the wire, Error catches the ones that only show up
// while actually talking to a rig.
type Kind int

const (
	UnknownName Kind = iota
	TypeMismatch
	ArityMismatch
	IoWriteFailed
	IoReadFailed
	ResponseMismatch
	FormatInvalid
	Overflow
	UserError
)

func (k Kind) String() string {
	switch k {
	case UnknownName:
		return "UnknownName"
	case TypeMismatch:
		return "TypeMismatch"
	case ArityMismatch:
		return "ArityMismatch"
	case IoWriteFailed:
		return "IoWriteFailed"
	case IoReadFailed:
		return "IoReadFailed"
	case ResponseMismatch:
		return "ResponseMismatch"
	case FormatInvalid:
		return "FormatInvalid"
	case Overflow:
		return "Overflow"
	case UserError:
		return "UserError"
	}
	return "Unknown"
}

// Error is returned by every Interpreter entry point. Offset/Expected/Got
// are only populated for ResponseMismatch, reporting the first byte where
// an exact-match read() diverged from the rig's actual reply.
type Error struct {
	Kind     Kind
	Pos      token.Position
	Message  string
	Offset   int
	Expected byte
	Got      byte
	Cause    error
}

func (e *Error) Error() string {
	if e.Kind == ResponseMismatch {
		return fmt.Sprintf("%s: offset %d: expected 0x%02X, got 0x%02X", e.Kind, e.Offset, e.Expected, e.Got)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func errf(kind Kind, pos token.Position, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

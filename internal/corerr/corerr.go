// Package corerr defines the error kinds shared across coremesh's managers.
//
// Kinds classify failures by how callers must react: IllegalState and
// ModuleLifecycleFailed are always fatal to the process, Overloaded and
// SubscriberCallbackFailed are logged and local, NotFound and
// IllegalArgument surface at the call site, SystemCallFailed rolls back
// partial state, and Timeout completes a pending RPC with a timeout status.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. It is not a type hierarchy: callers switch on
// Kind, they never type-assert on a concrete error type.
type Kind int

const (
	Unknown Kind = iota
	IllegalState
	IllegalArgument
	NotFound
	Overloaded
	Timeout
	SystemCallFailed
	SubscriberCallbackFailed
	ModuleLifecycleFailed
)

func (k Kind) String() string {
	switch k {
	case IllegalState:
		return "illegal_state"
	case IllegalArgument:
		return "illegal_argument"
	case NotFound:
		return "not_found"
	case Overloaded:
		return "overloaded"
	case Timeout:
		return "timeout"
	case SystemCallFailed:
		return "system_call_failed"
	case SubscriberCallbackFailed:
		return "subscriber_callback_failed"
	case ModuleLifecycleFailed:
		return "module_lifecycle_failed"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-classified error for op, optionally wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IllegalStatef is a convenience constructor for the most common fatal kind:
// a manager method called outside the phase that permits it.
func IllegalStatef(op, format string, args ...any) *Error {
	return New(IllegalState, op, fmt.Errorf(format, args...))
}

// Newf builds a Kind-classified error for op with a formatted message,
// sparing callers an fmt.Errorf+New pair at every call site.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

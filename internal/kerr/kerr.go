// Package kerr defines the kernel's uniform error-kind taxonomy (spec §7).
// Every effectful syscall handler returns one of these kinds rather than a
// bare error, so the dispatcher can render a consistent
// {success:false, error:"..."} response and tag the right audit category.
package kerr

import "fmt"

// Kind classifies a syscall failure.
type Kind string

const (
	PermissionDenied  Kind = "permission_denied"
	BadRequest        Kind = "bad_request"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	ResourceExhausted Kind = "resource_exhausted"
	Timeout           Kind = "timeout"
	Unavailable       Kind = "unavailable"
	Internal          Kind = "internal"
)

// Error is a kernel error carrying a Kind alongside its message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New constructs an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// PermDenied is a convenience constructor for the common denial message
// used verbatim in spec §4.2/§8.
func PermDenied() *Error {
	return &Error{Kind: PermissionDenied, Message: "permission denied"}
}

// As-friendly kind check.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

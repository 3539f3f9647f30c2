// Package rpcstatus defines the error taxonomy shared by the call engine,
// the endpoint dispatcher, and the router core. Codes are named after gRPC
// status codes, but their numeric values are this package's own and
// differ from gRPC's from FailedPrecondition on; trailers carry a code as
// its name (Code.String), not as a number.
package rpcstatus

import "fmt"

// Code is a taxonomy of outcomes for a call or router operation.
type Code int32

const (
	OK Code = iota
	Cancelled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	FailedPrecondition
	ResourceExhausted
	Unavailable
	Unimplemented
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Cancelled:
		return "cancelled"
	case Unknown:
		return "unknown"
	case InvalidArgument:
		return "invalid_argument"
	case DeadlineExceeded:
		return "deadline_exceeded"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case FailedPrecondition:
		return "failed_precondition"
	case ResourceExhausted:
		return "resource_exhausted"
	case Unavailable:
		return "unavailable"
	case Unimplemented:
		return "unimplemented"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type returned from call-engine and router operations.
// It carries enough information to populate a trailer (grpc-status,
// grpc-message) on a wire-backed transport.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an *Error for code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromError unwraps err into an *Error, defaulting to Unknown for any
// error that did not originate from this package (such as a third-party
// error returned by a handler), so callers always have a code to work with.
func FromError(err error) *Error {
	if err == nil {
		return &Error{Code: OK}
	}
	var se *Error
	if ok := As(err, &se); ok {
		return se
	}
	return &Error{Code: Unknown, Message: err.Error()}
}

// As is a narrow errors.As for *Error to avoid importing errors here twice
// over; kept local since *Error never wraps another error.
func As(err error, target **Error) bool {
	se, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = se
	return true
}

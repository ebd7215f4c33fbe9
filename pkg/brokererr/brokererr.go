// Package brokererr defines the wire-level error taxonomy every core
// operation returns. Handlers map a Code to an HTTP status only at the
// transport edge; nothing upstream of that edge should branch on status
// codes.
package brokererr

import "fmt"

// Code is one of the wire-level error kinds.
type Code string

const (
	InvalidArgument    Code = "INVALID_ARGUMENT"
	NotFound           Code = "NOT_FOUND"
	AlreadyExists      Code = "ALREADY_EXISTS"
	PermissionDenied   Code = "PERMISSION_DENIED"
	FailedPrecondition Code = "FAILED_PRECONDITION"
	DeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	Unavailable        Code = "UNAVAILABLE"
	Internal           Code = "INTERNAL"
)

// Error is the typed error every core operation returns on failure. Reason
// is an optional machine-readable sub-code (e.g. "AGREEMENT_INACTIVE") for
// FailedPrecondition errors that callers branch on.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Invalid(message string) *Error   { return newErr(InvalidArgument, message) }
func NotFoundf(message string) *Error { return newErr(NotFound, message) }
func Exists(message string) *Error    { return newErr(AlreadyExists, message) }
func Denied(message string) *Error    { return newErr(PermissionDenied, message) }
func Internalf(err error) *Error {
	return &Error{Code: Internal, Message: "internal error", Cause: err}
}
func DeadlineExceededf(message string) *Error { return newErr(DeadlineExceeded, message) }
func Unavailablef(message string) *Error      { return newErr(Unavailable, message) }

// Precondition builds a FAILED_PRECONDITION error carrying a machine-readable
// reason code, e.g. brokererr.Precondition("AGREEMENT_INACTIVE", "agreement is not active").
func Precondition(reason, message string) *Error {
	return &Error{Code: FailedPrecondition, Reason: reason, Message: message}
}

// As extracts a *Error from err, if any. Shadows errors.As for the common
// single-level case this package is used in.
func As(err error) (*Error, bool) {
	be, ok := err.(*Error)
	return be, ok
}

// httpStatus maps each Code to an HTTP status, consumed only at the
// transport edge.
var httpStatus = map[Code]int{
	InvalidArgument:    400,
	NotFound:           404,
	AlreadyExists:      409,
	PermissionDenied:   403,
	FailedPrecondition: 412,
	DeadlineExceeded:   504,
	Unavailable:        503,
	Internal:           500,
}

// HTTPStatus returns the HTTP status code for a Code, defaulting to 500.
func HTTPStatus(c Code) int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return 500
}

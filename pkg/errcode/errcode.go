// Package errcode defines the failure taxonomy shared by the pin service and
// its clients. Every error that crosses the transport is classified into one
// of the Code values below.
package errcode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure.
type Code string

const (
	ResourceUnavailable Code = "resource_unavailable"
	InvalidArgument     Code = "invalid_argument"
	NotFound            Code = "not_found"
	FailedPrecondition  Code = "failed_precondition"
	Internal            Code = "internal"
)

// Error is a classified failure raised by an operation.
type Error struct {
	Code Code
	// Op is the operation name (e.g. "get-version-pin").
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// WithOp stamps the operation name on err, classifying it as Internal when it
// carries no code yet.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Code: e.Code, Op: op, Err: e.Err}
		}
		return e
	}
	return &Error{Code: CodeOf(err), Op: op, Err: err}
}

// CodeOf returns the classification of err. Context deadline and cancellation
// map to ResourceUnavailable; unclassified errors map to Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ResourceUnavailable
	}
	return Internal
}

// Is reports whether err is classified as code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code to the status used on the wire.
func (c Code) HTTPStatus() int {
	switch c {
	case ResourceUnavailable:
		return http.StatusServiceUnavailable
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case FailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is the inverse of HTTPStatus, used when a reply carries no
// code field.
func FromHTTPStatus(status int) Code {
	switch status {
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return ResourceUnavailable
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return InvalidArgument
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return FailedPrecondition
	default:
		return Internal
	}
}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	switch c {
	case ResourceUnavailable, InvalidArgument, NotFound, FailedPrecondition, Internal:
		return true
	}
	return false
}

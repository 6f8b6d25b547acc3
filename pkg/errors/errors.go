// Package errors defines the closed failure taxonomy shared by every
// pipeline stage. Stages classify failures by code instead of by transport
// or driver specific error types, so retry policy and HTTP translation stay
// in one place.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

const (
	// CodeConfiguration marks invalid engine or source configuration.
	// Fatal, surfaced immediately, never retried.
	CodeConfiguration Code = "configuration"

	// CodeTransient marks failures worth retrying: timeouts, connection
	// resets, 5xx and 429 responses from a source.
	CodeTransient Code = "transient"

	// CodeRemote marks a well-formed error envelope from the remote side
	// (bad token, unknown function). Retrying cannot help.
	CodeRemote Code = "remote"

	// CodeValidation marks a single record failing field extraction or
	// schema checks. Recovered per record, never aborts a batch.
	CodeValidation Code = "validation"

	// CodePersistence marks a storage failure during a batch write. The
	// whole batch rolls back and the stage invocation fails.
	CodePersistence Code = "persistence"

	// CodeBadRequest and friends exist for the HTTP transport layer.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeInternal     Code = "internal"
)

// Error carries a code, a human message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the failure class is worth retrying.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransient
}

// ToHTTPStatus maps a code to the status the HTTP transport should return.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeConfiguration, CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransient:
		return http.StatusBadGateway
	case CodeRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

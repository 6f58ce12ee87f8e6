// Package errs defines the coded errors returned at the HTTP boundary.
package errs

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class on the wire.
type Code string

const (
	CodeAgentNotFound    Code = "AGENT_NOT_FOUND"
	CodeDocumentNotFound Code = "DOCUMENT_NOT_FOUND"
	CodeOpenAPINotFound  Code = "OPENAPI_NOT_FOUND"
	CodeMCPNotFound      Code = "MCP_NOT_FOUND"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeInternal         Code = "INTERNAL_SERVER_ERROR"
)

var statuses = map[Code]int{
	CodeAgentNotFound:    http.StatusNotFound,
	CodeDocumentNotFound: http.StatusNotFound,
	CodeOpenAPINotFound:  http.StatusNotFound,
	CodeMCPNotFound:      http.StatusNotFound,
	CodeNotFound:         http.StatusNotFound,
	CodeInvalidRequest:   http.StatusBadRequest,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeInternal:         http.StatusInternalServerError,
}

var defaultMessages = map[Code]string{
	CodeAgentNotFound:    "agent not found",
	CodeDocumentNotFound: "document not found",
	CodeOpenAPINotFound:  "openapi integration not found",
	CodeMCPNotFound:      "mcp integration not found",
	CodeNotFound:         "not found",
	CodeInvalidRequest:   "invalid request",
	CodeUnauthorized:     "unauthorized",
	CodeInternal:         "internal server error",
}

// Error carries a Code, a client-safe message and an optional cause.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates an error. An empty message uses the code's default.
func New(code Code, message string) *Error {
	if message == "" {
		message = defaultMessages[code]
	}
	return &Error{code: code, message: message}
}

// Wrap attaches a cause. The cause is logged, never sent to clients.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error { return e.cause }

// Is matches other *Error values by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// Code returns the error code.
func (e *Error) Code() Code { return e.code }

// Message returns the client-safe message.
func (e *Error) Message() string { return e.message }

// Status returns the HTTP status for the code.
func (e *Error) Status() int {
	if s, ok := statuses[e.code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// From extracts an *Error, treating anything else as internal.
func From(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, err, "")
}

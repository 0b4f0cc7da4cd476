// Package gatewayerr defines the error taxonomy surfaced across the gateway's
// core subsystems, and the HTTP status each kind maps to at the edge.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error categories the gateway core can produce.
type Kind string

const (
	// BadRequest is malformed input at the API boundary.
	BadRequest Kind = "bad_request"
	// NotFound is an unknown conversation id.
	NotFound Kind = "not_found"
	// NoServerAvailable means the registry has no server for the needed capability.
	NoServerAvailable Kind = "no_server_available"
	// Operation is a generic upstream-call or shape-parse failure.
	Operation Kind = "operation"
	// ToolEmptyContent means a tool call returned zero content items.
	ToolEmptyContent Kind = "tool_empty_content"
	// ToolNotFoundClient means a tool name was emitted that no server advertises.
	ToolNotFoundClient Kind = "tool_not_found"
	// Cancelled means the client disconnected during a suspension point.
	Cancelled Kind = "cancelled"
)

// Status returns the HTTP status code this kind maps to at the edge.
func (k Kind) Status() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case NoServerAvailable, Operation, ToolEmptyContent, ToolNotFoundClient:
		return http.StatusInternalServerError
	case Cancelled:
		return 499 // nginx-style client-closed-request; no standard code exists
	default:
		return http.StatusInternalServerError
	}
}

// Error is a gateway core error: a kind, a human message, and optional context
// (request id, downstream body) carried for logging at the edge.
type Error struct {
	Kind        Kind
	Message     string
	RequestID   string
	Downstream  string // raw downstream body, for Operation errors
	wrapped     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: cause}
}

// WithRequestID attaches the inbound request id for logging/propagation.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithDownstream attaches the raw downstream response body (Operation errors).
func (e *Error) WithDownstream(body string) *Error {
	e.Downstream = body
	return e
}

// KindOf extracts the Kind from err, defaulting to Operation if err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Operation
}

// Is reports whether err is (or wraps) a gateway error of kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

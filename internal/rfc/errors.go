package rfc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure categories a call can end in.
type ErrorKind int

const (
	// KindInternal is any unexpected failure.
	KindInternal ErrorKind = iota
	// KindMalformedBody is an unparsable request body.
	KindMalformedBody
	// KindMalformedQuery is an unparsable query parameter.
	KindMalformedQuery
	// KindMissingFunction is a request without a function name.
	KindMissingFunction
	// KindFunctionNotFound is a function the destination repository does not know.
	KindFunctionNotFound
	// KindBusiness is an exception raised by the remote function itself.
	KindBusiness
	// KindTransport is a connectivity or protocol failure.
	KindTransport
	// KindPartialCommit is a primary call that succeeded followed by a failed commit.
	KindPartialCommit
)

var kindNames = map[ErrorKind]string{
	KindInternal:         "internal",
	KindMalformedBody:    "malformed_body",
	KindMalformedQuery:   "malformed_query",
	KindMissingFunction:  "missing_function",
	KindFunctionNotFound: "function_not_found",
	KindBusiness:         "business",
	KindTransport:        "transport",
	KindPartialCommit:    "partial_commit",
}

// String returns a stable label, used in logs and metrics.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Malformed reports whether the kind belongs to the malformed payload category.
func (k ErrorKind) Malformed() bool {
	return k == KindMalformedBody || k == KindMalformedQuery || k == KindMissingFunction
}

// Error is the only error type the bridge returns to its callers.
type Error struct {
	Kind        ErrorKind
	Function    string
	Destination string
	Detail      string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Exception()
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Exception returns the category text reported in the error envelope.
func (e *Error) Exception() string {
	switch e.Kind {
	case KindMalformedBody:
		return "Body couldn't be converted to JSON."
	case KindMalformedQuery:
		return "Query couldn't be converted to JSON."
	case KindMissingFunction:
		return "Function module name is missing."
	case KindFunctionNotFound:
		return fmt.Sprintf("Function %s not found in destination system.", e.Function)
	case KindBusiness:
		return fmt.Sprintf("ABAP exception occurred in %s in destination %s.", e.Function, e.Destination)
	case KindTransport:
		return fmt.Sprintf("RFC exception occurred while executing %s in destination %s.", e.Function, e.Destination)
	case KindPartialCommit:
		return fmt.Sprintf("Commit failed after executing %s in destination %s.", e.Function, e.Destination)
	default:
		return "Runtime exception."
	}
}

// Message returns the detail reported in the error envelope.
func (e *Error) Message() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return e.Detail + ": " + e.Cause.Error()
	case e.Detail != "":
		return e.Detail
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return e.Exception()
	}
}

// Timeout reports whether the failure was caused by an expired deadline.
func (e *Error) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

func newError(kind ErrorKind, function, destination string, cause error) *Error {
	return &Error{Kind: kind, Function: function, Destination: destination, Cause: cause}
}

// BusinessException is returned by destinations when the remote function
// raised one of its declared exceptions.
type BusinessException struct {
	Key     string
	Message string
}

// Error implements the error interface.
func (e *BusinessException) Error() string {
	switch {
	case e.Key != "" && e.Message != "":
		return e.Key + ": " + e.Message
	case e.Key != "":
		return e.Key
	default:
		return e.Message
	}
}

// TransportException is returned by destinations when the call could not be
// carried out: lost connection, broken protocol, refused logon.
type TransportException struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TransportException) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *TransportException) Unwrap() error {
	return e.Cause
}

// classify turns any failure of the remote step into a bridge error.
func classify(err error, function, destination string) *Error {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}

	var business *BusinessException
	if errors.As(err, &business) {
		e := newError(KindBusiness, function, destination, nil)
		e.Detail = business.Error()
		return e
	}

	var transport *TransportException
	if errors.As(err, &transport) {
		return newError(KindTransport, function, destination, transport)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindTransport, function, destination, err)
	}

	return newError(KindInternal, function, destination, err)
}

// StatusPolicy selects how error kinds map to HTTP status codes.
type StatusPolicy int

const (
	// StatusLegacy reports every failure as 400 Bad Request.
	StatusLegacy StatusPolicy = iota
	// StatusSemantic distinguishes client, remote and infrastructure failures.
	StatusSemantic
)

// ParseStatusPolicy parses a configured policy name.
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch s {
	case "", "legacy":
		return StatusLegacy, nil
	case "semantic":
		return StatusSemantic, nil
	default:
		return StatusLegacy, fmt.Errorf("unknown error status policy %q", s)
	}
}

// MapError converts any error into the response status and envelope.
func MapError(err error, policy StatusPolicy) (int, ErrorEnvelope) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindInternal, "", "", err)
	}

	envelope := ErrorEnvelope{
		Exception:    e.Exception(),
		ErrorMessage: e.Message(),
	}

	if policy == StatusLegacy {
		return http.StatusBadRequest, envelope
	}

	switch e.Kind {
	case KindMalformedBody, KindMalformedQuery, KindMissingFunction:
		return http.StatusBadRequest, envelope
	case KindFunctionNotFound:
		return http.StatusNotFound, envelope
	case KindBusiness:
		return http.StatusUnprocessableEntity, envelope
	case KindTransport:
		if e.Timeout() {
			return http.StatusGatewayTimeout, envelope
		}
		return http.StatusBadGateway, envelope
	case KindPartialCommit, KindInternal:
		return http.StatusInternalServerError, envelope
	default:
		return http.StatusInternalServerError, envelope
	}
}

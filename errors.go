package lwm2m

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is a programmatic error classification that maps 1:1 to a CoAP
// response code. See spec §7.
type Kind byte

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindBadOption
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindNotAcceptable
	KindEntityIncomplete
	KindRequestTooLarge
	KindUnsupportedContentFormat
	KindInternalServerError
	KindNotImplemented
)

// CoAPCode returns the response code this error kind maps to.
func (k Kind) CoAPCode() CoapCode {
	switch k {
	case KindBadRequest:
		return CoapCodeBadRequest
	case KindUnauthorized:
		return CoapCodeUnauthorized
	case KindBadOption:
		return CoapCodeBadOption
	case KindForbidden:
		return CoapCodeForbidden
	case KindNotFound:
		return CoapCodeNotFound
	case KindMethodNotAllowed:
		return CoapCodeNotAllowed
	case KindNotAcceptable:
		return CoapCodeNotAcceptable
	case KindEntityIncomplete:
		return CoapCodeRequestEntityIncomplete
	case KindRequestTooLarge:
		return CoapCodeRequestEntityTooLarge
	case KindUnsupportedContentFormat:
		return CoapCodeUnsupportedContentFormat
	case KindNotImplemented:
		return CoapCodeNotImplemented
	default:
		return CoapCodeInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindBadOption:
		return "BadOption"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindMethodNotAllowed:
		return "MethodNotAllowed"
	case KindNotAcceptable:
		return "NotAcceptable"
	case KindEntityIncomplete:
		return "EntityIncomplete"
	case KindRequestTooLarge:
		return "RequestTooLarge"
	case KindUnsupportedContentFormat:
		return "UnsupportedContentFormat"
	case KindInternalServerError:
		return "InternalServerError"
	case KindNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// OpError is an error carrying a Kind, suitable for turning directly into
// a CoAP response code at the top of the operation engine.
type OpError struct {
	Kind  Kind
	cause error
}

func (e *OpError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *OpError) Unwrap() error { return e.cause }

// NewOpError wraps cause (which may be nil) with a Kind, keeping the root
// cause recoverable via pkg/errors.Cause for logging.
func NewOpError(kind Kind, cause error) *OpError {
	if cause != nil {
		cause = pkgerrors.Wrap(cause, kind.String())
	}
	return &OpError{Kind: kind, cause: cause}
}

// AsOpError extracts the Kind from err, defaulting to InternalServerError
// for errors the engine didn't classify itself (handler panics recovered
// as plain errors, I/O failures, etc).
func AsOpError(err error) *OpError {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OpError); ok {
		return oe
	}
	return NewOpError(KindInternalServerError, err)
}

// Cause returns the deepest wrapped error, for logging.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}

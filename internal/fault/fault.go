// Package fault defines the error taxonomy shared by the delivery pipeline,
// the device registry and the transports that report failures to callers.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of request-scoped failure.
type Code string

const (
	MalformedAddress            Code = "malformed_address"
	UnknownOrUnverifiedSender   Code = "unknown_or_unverified_sender"
	UnregisteredOrForeignDevice Code = "unregistered_or_foreign_device"
	NoProcessableContent        Code = "no_processable_content"
	RenderFailure               Code = "render_failure"
	UnsupportedDocumentKind     Code = "unsupported_document_kind"
	UploadFailure               Code = "upload_failure"
	InvalidOneTimeCode          Code = "invalid_one_time_code"
	DeviceNotFound              Code = "device_not_found"

	// Internal is reported for errors that carry no taxonomy code.
	Internal Code = "internal"
)

// Error is a failure tagged with a Code. The wrapped cause, if any, is
// available through errors.Unwrap.
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

// New creates an Error with a formatted message and no cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code. A nil err still produces an Error so callers can
// use Wrap for failures that only have a message.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the Code of the outermost *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the human-readable message of the outermost *Error, or a
// generic text for untagged errors so internals do not leak to callers.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}

// HTTPStatus maps a Code to the status returned by the HTTP transport.
func HTTPStatus(code Code) int {
	switch code {
	case MalformedAddress, InvalidOneTimeCode:
		return http.StatusBadRequest
	case UnknownOrUnverifiedSender:
		return http.StatusForbidden
	case UnregisteredOrForeignDevice, DeviceNotFound:
		return http.StatusNotFound
	case NoProcessableContent:
		return http.StatusUnprocessableEntity
	case UnsupportedDocumentKind:
		return http.StatusUnsupportedMediaType
	case UploadFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Temporary reports whether a failure with this code may succeed if the
// sender tries again later. Used by the SMTP transport to pick 4xx vs 5xx.
func Temporary(code Code) bool {
	switch code {
	case RenderFailure, UploadFailure, Internal:
		return true
	default:
		return false
	}
}

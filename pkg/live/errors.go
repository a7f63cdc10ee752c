package live

import (
	"errors"
	"fmt"
)

// ErrorType categorizes session errors.
type ErrorType string

const (
	ErrPermissionDenied  ErrorType = "permission_denied"
	ErrDeviceUnavailable ErrorType = "device_unavailable"
	ErrConnectFailed     ErrorType = "connect_failed"
	ErrDecode            ErrorType = "decode_error"
	ErrToolHandler       ErrorType = "tool_handler_error"
	ErrChannel           ErrorType = "channel_error"
	ErrValidation        ErrorType = "validation_error"
)

// Error is the session error taxonomy. Every failure the engine surfaces to
// callers is an *Error so the caller can branch on Type.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error of the given type.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// WrapError creates an error of the given type around an underlying cause.
func WrapError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// NewPermissionDeniedError creates a microphone permission error.
func NewPermissionDeniedError(message string, cause error) *Error {
	return WrapError(ErrPermissionDenied, message, cause)
}

// NewConnectFailedError creates a channel establishment error.
func NewConnectFailedError(message string, cause error) *Error {
	return WrapError(ErrConnectFailed, message, cause)
}

// NewDecodeError creates an inbound audio decode error.
func NewDecodeError(message string) *Error {
	return NewError(ErrDecode, message)
}

// NewValidationError creates a record validation error.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message)
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var le *Error
	return errors.As(err, &le) && le.Type == t
}

package engine

import "errors"

// Error represents a domain error from storage engine operations.
//
// These are business logic errors (object not found, container already
// exists, etc.) as opposed to infrastructure errors (network failure,
// disk error). The session layer translates Error codes into its
// fatal/non-fatal propagation policy.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the namespace path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of an engine error.
type ErrorCode int

const (
	// ErrNotFound indicates the pool, container, or object doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an exclusive create found an existing object
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty name, nil buffer, negative offset
	ErrInvalidArgument

	// ErrConnect indicates the pool connection could not be established
	ErrConnect

	// ErrMount indicates the container filesystem view could not be mounted
	ErrMount

	// ErrConfig indicates required identifiers are missing or malformed
	ErrConfig

	// ErrIO indicates a read or write against the engine failed
	ErrIO

	// ErrNoSpace indicates the engine is out of capacity
	ErrNoSpace

	// ErrTooManyRetries indicates a transfer exhausted its retry bound
	ErrTooManyRetries

	// ErrNotSupported indicates the engine does not implement the operation
	ErrNotSupported
)

// NewError creates an engine error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewPathError creates an engine error tied to a namespace path.
func NewPathError(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// codeOf extracts the ErrorCode from err, or -1 when err is not an *Error.
func codeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorCode(-1)
}

// IsNotFound reports whether err is an engine NotFound error.
func IsNotFound(err error) bool { return codeOf(err) == ErrNotFound }

// IsAlreadyExists reports whether err is an engine AlreadyExists error.
func IsAlreadyExists(err error) bool { return codeOf(err) == ErrAlreadyExists }

// IsTooManyRetries reports whether err is a retry-bound exhaustion error.
func IsTooManyRetries(err error) bool { return codeOf(err) == ErrTooManyRetries }

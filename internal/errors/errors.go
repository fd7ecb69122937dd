package errors

import (
	"context"
	"errors"
)

// Code identifies a structured error type used across the application.
type Code string

const (
	// Generic codes
	CodeUnknown   Code = "unknown"
	CodeCancelled Code = "cancelled"

	// Update lifecycle errors
	CodeNetwork  Code = "network"
	CodeProtocol Code = "protocol"
	CodeDownload Code = "download"
	CodeInstall  Code = "install"
	CodeStore    Code = "store"
	CodeLaunch   Code = "launch"

	CodeConfigurationError Code = "configuration_error"
)

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
// Context cancellation that was never classified reports CodeCancelled.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Kind returns a short human label for the error's code, used in status lines.
func Kind(err error) string {
	switch CodeOf(err) {
	case CodeNetwork:
		return "Network error"
	case CodeProtocol:
		return "Protocol error"
	case CodeDownload:
		return "Download error"
	case CodeInstall:
		return "Install error"
	case CodeStore:
		return "Version record error"
	case CodeLaunch:
		return "Launch error"
	case CodeConfigurationError:
		return "Configuration error"
	case CodeCancelled:
		return "Cancelled"
	default:
		return "Error"
	}
}

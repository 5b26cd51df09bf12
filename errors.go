package mts

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents an mts-specific error. Failures in this package are
// configuration or programming defects and are never retried.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    string
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e Error) Is(target error) bool {
	if targetErr, ok := target.(Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewErrorWithCode creates a new Error with a code
func NewErrorWithCode(errorType ErrorType, message string, code string) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

// configErrorf is shorthand for the most common failure in this package.
func configErrorf(format string, args ...interface{}) Error {
	return NewError(ErrorTypeConfiguration, fmt.Sprintf(format, args...))
}

func invalidArgumentf(format string, args ...interface{}) Error {
	return NewError(ErrorTypeInvalidArgument, fmt.Sprintf(format, args...))
}

// IsConfiguration checks if an error is a "configuration" error
func IsConfiguration(err error) bool {
	return IsErrorType(err, ErrorTypeConfiguration)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a "validation" error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsPrecisionLoss checks if an error reports a lossy numeric narrowing
func IsPrecisionLoss(err error) bool {
	return IsErrorType(err, ErrorTypePrecisionLoss)
}

// IsInvalidArgument checks if an error is an "invalid argument" error
func IsInvalidArgument(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidArgument)
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, Error{Type: errorType})
}

package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a snapshot, variant or other entity does not exist
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a malformed payload
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a duplicate month, duplicate procedure id or a lost write race
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypePersistenceCorrupted indicates the persisted document could not be decoded
	ErrorTypePersistenceCorrupted ErrorType = "PERSISTENCE_CORRUPTED"

	// ErrorTypeInternal indicates an infrastructure failure
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewPersistenceCorruptedError creates an error for an undecodable persisted document
func NewPersistenceCorruptedError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypePersistenceCorrupted,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the type of the first AppError in the chain, or "" when there is none
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsNotFound reports whether err carries ErrorTypeNotFound
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsValidation reports whether err carries ErrorTypeValidation
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsConflict reports whether err carries ErrorTypeConflict
func IsConflict(err error) bool {
	return TypeOf(err) == ErrorTypeConflict
}

// IsPersistenceCorrupted reports whether err carries ErrorTypePersistenceCorrupted
func IsPersistenceCorrupted(err error) bool {
	return TypeOf(err) == ErrorTypePersistenceCorrupted
}

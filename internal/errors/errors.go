// Package errors provides error code definitions shared across Geomark.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to API consumers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Landmark errors
	ErrLandmarkNotFound ErrorCode = "LANDMARK_NOT_FOUND"
	ErrLandmarkInvalid  ErrorCode = "LANDMARK_INVALID"

	// Sync errors
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrServerError        ErrorCode = "SERVER_ERROR"
	ErrValidationRejected ErrorCode = "VALIDATION_REJECTED"
	ErrQueueCorrupt       ErrorCode = "QUEUE_CORRUPT"
	ErrQueueFull          ErrorCode = "QUEUE_FULL"
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed         ErrorCode = "SYNC_FAILED"
	ErrActionNotFound     ErrorCode = "ACTION_NOT_FOUND"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the ErrorCode from an error, or ErrInternal when the error
// carries no code.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether a sync failure should be retried on a later
// drain. Network and server-side failures are retryable; validation
// rejections are not.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrNetworkUnavailable, ErrServerError:
		return true
	default:
		return false
	}
}

// Package apierror defines the structured error responses of the control API.
package apierror

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/geomarkapp/geomark/internal/errors"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       string(apperrors.ErrInvalid),
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       string(apperrors.ErrNotFound),
		Message:    message,
	}
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       string(apperrors.ErrSyncInProgress),
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       string(apperrors.ErrInternal),
		Message:    message,
	}
}

// FromAppError maps an application error onto an HTTP response error.
func FromAppError(err error) *Error {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrLandmarkInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrLandmarkNotFound, apperrors.ErrActionNotFound:
		status = http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrQueueFull:
		status = http.StatusTooManyRequests
	case apperrors.ErrNetworkUnavailable:
		status = http.StatusServiceUnavailable
	}

	return &Error{
		StatusCode: status,
		Code:       string(code),
		Message:    err.Error(),
	}
}

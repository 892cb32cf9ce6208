// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		// General errors
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"duplicate", ErrDuplicate},
		{"validation", ErrValidation},

		// Database errors
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"constraint", ErrConstraint},

		// Landmark errors
		{"landmark not found", ErrLandmarkNotFound},
		{"landmark invalid", ErrLandmarkInvalid},

		// Sync errors
		{"network unavailable", ErrNetworkUnavailable},
		{"server error", ErrServerError},
		{"validation rejected", ErrValidationRejected},
		{"queue corrupt", ErrQueueCorrupt},
		{"queue full", ErrQueueFull},
		{"sync in progress", ErrSyncInProgress},
		{"sync failed", ErrSyncFailed},
		{"action not found", ErrActionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDatabase, Message: "query failed", Err: errors.New("connection lost")},
			want:     "[DATABASE_ERROR] query failed: connection lost",
		},
		{
			name:     "not found error",
			appError: &AppError{Code: ErrLandmarkNotFound, Message: "landmark not found"},
			want:     "[LANDMARK_NOT_FOUND] landmark not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies unwrapping of underlying error.
func TestAppError_Unwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")

	tests := []struct {
		name          string
		appError      *AppError
		wantUnwrapped error
	}{
		{
			name:          "with underlying error",
			appError:      &AppError{Code: ErrInternal, Message: "failed", Err: underlyingErr},
			wantUnwrapped: underlyingErr,
		},
		{
			name:          "without underlying error",
			appError:      &AppError{Code: ErrInternal, Message: "failed"},
			wantUnwrapped: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Unwrap()
			if got != tt.wantUnwrapped {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantUnwrapped)
			}
		})
	}
}

// TestNew verifies AppError creation.
func TestNew(t *testing.T) {
	err := New(ErrInternal, "test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}
	if err.Code != ErrInternal {
		t.Errorf("New() code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Message != "test error" {
		t.Errorf("New() message = %q, want 'test error'", err.Message)
	}
	if err.Err != nil {
		t.Error("New() should not wrap an error")
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlyingErr := errors.New("underlying")

	err := Wrap(ErrDatabase, "query failed", underlyingErr)
	if err == nil {
		t.Fatal("Wrap() returned nil")
	}
	if err.Code != ErrDatabase {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrDatabase)
	}
	if err.Err != underlyingErr {
		t.Errorf("Wrap() underlying error = %v, want %v", err.Err, underlyingErr)
	}
}

// TestIs verifies error code checking.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{
			name: "matching AppError",
			err:  &AppError{Code: ErrNotFound, Message: "not found"},
			code: ErrNotFound,
			want: true,
		},
		{
			name: "non-matching AppError",
			err:  &AppError{Code: ErrNotFound, Message: "not found"},
			code: ErrInternal,
			want: false,
		},
		{
			name: "non-AppError",
			err:  errors.New("standard error"),
			code: ErrInternal,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: ErrInternal,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Is(tt.err, tt.code)
			if got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies code extraction with the internal fallback.
func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"app error", New(ErrQueueFull, "full"), ErrQueueFull},
		{"standard error", errors.New("plain"), ErrInternal},
		{"wrapped app error", Wrap(ErrServerError, "remote", errors.New("500")), ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRetryable verifies the retry classification used by the queue drain.
func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure", New(ErrNetworkUnavailable, "offline"), true},
		{"server failure", New(ErrServerError, "500"), true},
		{"validation rejection", New(ErrValidationRejected, "bad title"), false},
		{"corrupt entry", New(ErrQueueCorrupt, "unreadable"), false},
		{"standard error", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestErrorCodes_areUnique verifies all error codes are unique.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrValidation,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrLandmarkNotFound, ErrLandmarkInvalid,
		ErrNetworkUnavailable, ErrServerError, ErrValidationRejected,
		ErrQueueCorrupt, ErrQueueFull, ErrSyncInProgress, ErrSyncFailed, ErrActionNotFound,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
	}
}

// TestErrorCode_prefix verifies error codes follow naming convention.
func TestErrorCode_prefix(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrValidation,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrLandmarkNotFound, ErrLandmarkInvalid,
		ErrNetworkUnavailable, ErrServerError, ErrValidationRejected,
		ErrQueueCorrupt, ErrQueueFull, ErrSyncInProgress, ErrSyncFailed, ErrActionNotFound,
	}

	for _, code := range codes {
		str := string(code)
		if str != strings.ToUpper(str) {
			t.Errorf("ErrorCode %q should be uppercase", str)
		}
	}
}

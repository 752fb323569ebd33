package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeTokenReused        = "TOKEN_REUSED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeRoleMismatch       = "ROLE_MISMATCH"
	ErrCodeNotFound           = "NOT_FOUND"
)

// NewAppError creates a new application error
func NewAppError(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// As extracts an AppError from an error chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Common errors
var (
	ErrInvalidCredentials = NewAppError(ErrCodeInvalidCredentials, "Invalid email or password", http.StatusUnauthorized)
	ErrInvalidToken       = NewAppError(ErrCodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
	ErrTokenReused        = NewAppError(ErrCodeTokenReused, "Refresh token already used", http.StatusUnauthorized)
	ErrRateLimitExceeded  = NewAppError(ErrCodeRateLimitExceeded, "Too many login attempts", http.StatusTooManyRequests)
	ErrEmailTaken         = NewAppError(ErrCodeEmailTaken, "An account with this email already exists", http.StatusConflict)
	ErrNotAuthenticated   = NewAppError(ErrCodeNotAuthenticated, "Not authenticated", http.StatusUnauthorized)
	ErrRoleMismatch       = NewAppError(ErrCodeRoleMismatch, "Your account cannot access this resource", http.StatusForbidden)
	ErrUserNotFound       = NewAppError(ErrCodeNotFound, "User not found", http.StatusNotFound)
)

// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Transaction errors and business errors share AppError for consistent handling.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal          = "INTERNAL_ERROR"
	CodeTransactionSystem = "TRANSACTION_SYSTEM_ERROR"

	// Validation errors (400)
	CodeValidation               = "VALIDATION_ERROR"
	CodeTransactionConfiguration = "TRANSACTION_CONFIGURATION"

	// Business rule violations (422)
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeDuplicate          = "DUPLICATE_ENTRY"
	CodeIllegalState       = "ILLEGAL_TRANSACTION_STATE"
	CodeUnexpectedRollback = "UNEXPECTED_ROLLBACK"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (transaction name, frame id, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Transaction errors ---

// NewIllegalState is returned when a status is completed twice or
// completed out of LIFO order.
func NewIllegalState(message string) *AppError {
	return &AppError{
		Code:       CodeIllegalState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewUnexpectedRollback is returned to a committing owner whose physical
// transaction ended in rollback instead.
func NewUnexpectedRollback(message string) *AppError {
	return &AppError{
		Code:       CodeUnexpectedRollback,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewTransactionSystem wraps a failure of the physical resource itself.
func NewTransactionSystem(op string, err error) *AppError {
	return &AppError{
		Code:       CodeTransactionSystem,
		Message:    fmt.Sprintf("physical %s failed", op),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"operation": op},
		Err:        err,
	}
}

// NewConfiguration is returned for an invalid transaction definition.
func NewConfiguration(message string) *AppError {
	return &AppError{
		Code:       CodeTransactionConfiguration,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func hasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsBusinessRule checks if error is a business rule violation
func IsBusinessRule(err error) bool { return hasCode(err, CodeBusinessRule) }

// IsIllegalState checks if error is CodeIllegalState
func IsIllegalState(err error) bool { return hasCode(err, CodeIllegalState) }

// IsUnexpectedRollback checks if error is CodeUnexpectedRollback
func IsUnexpectedRollback(err error) bool { return hasCode(err, CodeUnexpectedRollback) }

// IsTransactionSystem checks if error is CodeTransactionSystem
func IsTransactionSystem(err error) bool { return hasCode(err, CodeTransactionSystem) }

// IsConfiguration checks if error is CodeTransactionConfiguration
func IsConfiguration(err error) bool { return hasCode(err, CodeTransactionConfiguration) }

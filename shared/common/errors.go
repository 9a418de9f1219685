package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies an AppError
type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequired    ErrorCode = "MISSING_REQUIRED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"

	// Migration, backup and recovery failures
	ErrCodeScriptExecution  ErrorCode = "SCRIPT_EXECUTION"
	ErrCodeLockContention   ErrorCode = "LOCK_CONTENTION"
	ErrCodeBackupValidation ErrorCode = "BACKUP_VALIDATION"
	ErrCodeMissingBackup    ErrorCode = "MISSING_BACKUP"
	ErrCodeBackupProvenance ErrorCode = "BACKUP_PROVENANCE"
	ErrCodeStepExecution    ErrorCode = "STEP_EXECUTION"
	ErrCodeHealthCheck      ErrorCode = "HEALTH_CHECK"
)

// httpStatus is the response status of each code. Codes not listed map to
// 500.
var httpStatus = map[ErrorCode]int{
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeValidationFailed:   http.StatusBadRequest,
	ErrCodeMissingRequired:    http.StatusBadRequest,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeLockContention:     http.StatusConflict,
	ErrCodeInvalidState:       http.StatusUnprocessableEntity,
	ErrCodeMissingBackup:      http.StatusUnprocessableEntity,
	ErrCodeBackupValidation:   http.StatusUnprocessableEntity,
	ErrCodeBackupProvenance:   http.StatusUnprocessableEntity,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeExternalService:    http.StatusBadGateway,
}

// AppError is an error carrying a code, a message for the operator and
// structured context for logs and API responses.
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext records a key/value pair on the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates an error with the given code
func NewAppError(code ErrorCode, message string) *AppError {
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Message: message, StatusCode: status}
}

// NewAppErrorWithDetails creates an error with a detail string
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	appErr := NewAppError(code, message)
	appErr.Details = details
	return appErr
}

// NewAppErrorWithCause creates an error wrapping cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	return NewAppError(code, message).WithCause(cause)
}

// WrapError wraps err with code. An error that already carries an AppError
// keeps its code and is returned unchanged.
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	return NewAppErrorWithCause(code, message, err)
}

// GetAppError returns the first AppError in err's chain, or nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasErrorCode reports whether err carries code
func HasErrorCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// CodeOf returns the code carried by err, or ErrCodeInternal
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

func ErrNotFound(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, resource+" not found")
}

func ErrInvalidInput(field string) *AppError {
	return NewAppError(ErrCodeInvalidInput, "invalid input for field: "+field)
}

func ErrForbidden(message string) *AppError {
	return NewAppError(ErrCodeForbidden, Coalesce(message, "access forbidden"))
}

func ErrValidationFailed(details string) *AppError {
	return NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", details)
}

func ErrInvalidState(current, expected string) *AppError {
	return NewAppErrorWithDetails(ErrCodeInvalidState, "invalid state",
		fmt.Sprintf("current: %s, expected: %s", current, expected))
}

// ErrDatabaseQuery wraps a failed store operation
func ErrDatabaseQuery(operation string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeDatabaseQuery, "database operation failed: "+operation, cause)
}

// ValidationError is one rejected field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors collects every rejected field of a request
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	switch len(ve) {
	case 0:
		return "validation failed"
	case 1:
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	fields := make([]string, len(ve))
	for i, e := range ve {
		fields[i] = e.Field
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(ve), strings.Join(fields, ", "))
}

// ToAppError returns nil when nothing was rejected
func (ve ValidationErrors) ToAppError() *AppError {
	if len(ve) == 0 {
		return nil
	}
	return NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", ve.Error()).
		WithContext("validation_errors", []ValidationError(ve))
}

// Add records a rejected field
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: message, Value: value})
}

func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeNotFound          = "NOT_FOUND"
	CodeParentNotFound    = "PARENT_NOT_FOUND"
	CodeEditWindowExpired = "EDIT_WINDOW_EXPIRED"
	CodeAlreadyDeleted    = "ALREADY_DELETED"
	CodeAccessCheckFailed = "ACCESS_CHECK_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewParentNotFoundError(id string) *AppError {
	return &AppError{
		Code:    CodeParentNotFound,
		Message: fmt.Sprintf("Parent comment with ID %s not found", id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewPermissionError(message string) *AppError {
	return &AppError{
		Code:    CodePermissionDenied,
		Message: message,
	}
}

func NewEditWindowExpiredError() *AppError {
	return &AppError{
		Code:    CodeEditWindowExpired,
		Message: "Comments can only be edited within 5 minutes of posting",
	}
}

func NewAlreadyDeletedError() *AppError {
	return &AppError{
		Code:    CodeAlreadyDeleted,
		Message: "Comment has already been deleted",
	}
}

// NewAccessCheckError wraps a store failure raised while evaluating access.
func NewAccessCheckError(err error) *AppError {
	return &AppError{
		Code:    CodeAccessCheckFailed,
		Message: "Access check failed",
		Err:     err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code in err's chain, or "" when there is none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsValidationError reports whether err carries the validation code.
func IsValidationError(err error) bool { return ErrorCode(err) == CodeValidation }

// IsPermissionError reports whether err carries the permission code.
func IsPermissionError(err error) bool { return ErrorCode(err) == CodePermissionDenied }

// IsNotFoundError reports whether err is a not-found of either kind.
func IsNotFoundError(err error) bool {
	code := ErrorCode(err)
	return code == CodeNotFound || code == CodeParentNotFound
}

// IsAccessCheckError reports whether err came from a failed access lookup.
func IsAccessCheckError(err error) bool { return ErrorCode(err) == CodeAccessCheckFailed }

// RespondWithError creates a standardized error response. Wrapped causes are never
// exposed to the client.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
	} else {
		response = ErrorResponse{
			Error: "Internal server error",
			Code:  CodeInternal,
		}
	}

	return c.Status(status).JSON(response)
}

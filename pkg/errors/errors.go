package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with an HTTP status and a stable machine-readable code.
// Code and Message are shown to clients; Cause stays server side.
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	// DeveloperMessage, when set, switches the response to the
	// {error, developerError} shape model clients expect.
	DeveloperMessage string `json:"-"`
	Cause            error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches a JSON-serializable payload to the response body.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithDeveloperMessage adds a hint for API clients
func (e *AppError) WithDeveloperMessage(msg string) *AppError {
	e.DeveloperMessage = msg
	return e
}

// WithCause records the underlying error for logs and errors.Is.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{StatusCode: statusCode, Code: code, Message: message}
}

func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

func NewConflictError(code string, message string) *AppError {
	return NewError(http.StatusConflict, code, message)
}

// NewBadGatewayError is for failures of an upstream model provider.
func NewBadGatewayError(code string, message string) *AppError {
	return NewError(http.StatusBadGateway, code, message)
}

func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is reports whether err wraps an AppError with the target's code.
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}

// FromError returns the AppError wrapped by err. Anything else becomes an
// opaque 500 whose message does not leak err to the client.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalServerError("INTERNAL_ERROR", "An unexpected error occurred").WithCause(err)
}

// GetStatusCode is the status FromError would respond with.
func GetStatusCode(err error) int {
	if appErr := FromError(err); appErr != nil && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

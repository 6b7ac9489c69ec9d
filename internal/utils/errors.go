package utils

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorCodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodePayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func NewErrorWithDetails(code ErrorCode, message string, statusCode int, details map[string]interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

// Common error constructors
func NewInvalidInputError(message string, details map[string]interface{}) *AppError {
	return NewErrorWithDetails(ErrorCodeInvalidInput, message, http.StatusBadRequest, details)
}

func NewMissingURLError() *AppError {
	return NewError(ErrorCodeInvalidInput, "URL is required", http.StatusBadRequest)
}

func NewInvalidURLError(url string) *AppError {
	return NewErrorWithDetails(
		ErrorCodeInvalidInput,
		"The provided URL is not a supported video link",
		http.StatusBadRequest,
		map[string]interface{}{
			"expected_format": "https://www.youtube.com/watch?v=VIDEO_ID",
			"provided":        url,
		},
	)
}

// NewUpstreamError carries only a generic message. Upstream detail stays in
// the server log.
func NewUpstreamError(message string) *AppError {
	return NewError(ErrorCodeUpstreamUnavailable, message, http.StatusInternalServerError)
}

func NewUnauthorizedError() *AppError {
	return NewError(
		ErrorCodeUnauthorized,
		"Invalid or missing API key",
		http.StatusUnauthorized,
	)
}

func NewRateLimitError() *AppError {
	return NewError(
		ErrorCodeRateLimitExceeded,
		"Too many requests, please try again later.",
		http.StatusTooManyRequests,
	)
}

func NewPayloadTooLargeError(limit int64) *AppError {
	return NewErrorWithDetails(
		ErrorCodePayloadTooLarge,
		"Request body too large",
		http.StatusRequestEntityTooLarge,
		map[string]interface{}{
			"limit_bytes": limit,
		},
	)
}

func NewNotFoundError(message string) *AppError {
	return NewError(ErrorCodeNotFound, message, http.StatusNotFound)
}

func NewInternalError() *AppError {
	return NewError(
		ErrorCodeInternalError,
		"An unexpected error occurred",
		http.StatusInternalServerError,
	)
}

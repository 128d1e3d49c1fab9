package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeSourceUnavailable ErrCode = "SOURCE_UNAVAILABLE"
	ErrCodeRateLimited       ErrCode = "RATE_LIMITED"
	ErrCodeTransientNetwork  ErrCode = "TRANSIENT_NETWORK"
	ErrCodeRequestFailed     ErrCode = "REQUEST_FAILED"
	ErrCodeQuery             ErrCode = "QUERY_ERROR"
	ErrCodeMalformedResponse ErrCode = "MALFORMED_RESPONSE"
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code       ErrCode
	Message    string
	StatusCode int // HTTP status for REQUEST_FAILED
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewSourceUnavailableError creates an error for a search or listing endpoint that cannot be read
func NewSourceUnavailableError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeSourceUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewTransientNetworkError wraps a connection-level failure
func NewTransientNetworkError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransientNetwork,
		Message: message,
		Err:     err,
	}
}

// NewRequestFailedError creates an error for a non-success HTTP status
func NewRequestFailedError(statusCode int, message string) *AppError {
	return &AppError{
		Code:       ErrCodeRequestFailed,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewQueryError creates an error for an application-level error payload of an aggregate query
func NewQueryError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeQuery,
		Message: message,
	}
}

// NewMalformedResponseError creates an error for a payload that does not have the expected shape
func NewMalformedResponseError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedResponse,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimited
}

// IsSourceUnavailable checks if the error is a source unavailable error
func IsSourceUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeSourceUnavailable
}

// IsQueryError checks if the error is an aggregate query error
func IsQueryError(err error) bool {
	return CodeOf(err) == ErrCodeQuery
}

// IsMalformedResponse checks if the error is a malformed response error
func IsMalformedResponse(err error) bool {
	return CodeOf(err) == ErrCodeMalformedResponse
}

// IsRequestFailed checks if the error is a request failed error
func IsRequestFailed(err error) bool {
	return CodeOf(err) == ErrCodeRequestFailed
}

// IsRetryable reports whether a bounded retry may succeed: query error payloads,
// transient network failures and upstream gateway errors.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrCodeQuery, ErrCodeTransientNetwork:
		return true
	case ErrCodeRequestFailed:
		switch appErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

package types

import "fmt"

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Error codes, mirroring the taxonomy in the error handling design: each
// carries a default HTTP status and OpenAI-style `type` string via
// DefaultHTTPStatus and OpenAIType.
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"

	// Registry-specific failures (§4.1).
	ErrDuplicateBaseURL  ErrorCode = "DUPLICATE_BASE_URL"
	ErrInvalidURL        ErrorCode = "INVALID_URL"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrConflictingStatus ErrorCode = "CONFLICTING_STATUS"

	// Router-specific failures (§4.4).
	ErrNoCapableEndpoints ErrorCode = "NO_CAPABLE_ENDPOINTS"
	ErrBackpressure       ErrorCode = "BACKPRESSURE"
)

// Error represents a structured error with code, message, and metadata.
// It is the single error type surfaced across the HTTP boundary.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message. HTTPStatus
// defaults to DefaultHTTPStatus(code) unless overridden with WithHTTPStatus.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: DefaultHTTPStatus(code)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the upstream endpoint name the error originated from.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// OpenAIType returns the OpenAI-compatible `type` string for this error,
// used to populate the `error.type` field of client-facing JSON bodies.
func (e *Error) OpenAIType() string {
	return OpenAIType(e.Code)
}

// DefaultHTTPStatus maps an ErrorCode to its default HTTP status.
func DefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest:
		return 400
	case ErrAuthentication, ErrUnauthorized:
		return 401
	case ErrForbidden:
		return 403
	case ErrModelNotFound, ErrNotFound:
		return 404
	case ErrRateLimit, ErrBackpressure:
		return 429
	case ErrServiceUnavailable, ErrNoCapableEndpoints, ErrConflictingStatus:
		return 503
	case ErrUpstreamError, ErrUpstreamTimeout:
		return 502
	case ErrDuplicateBaseURL, ErrInvalidURL:
		return 400
	case ErrInternalError:
		return 500
	default:
		return 500
	}
}

// OpenAIType maps an ErrorCode to the OpenAI-compatible `type` string.
func OpenAIType(code ErrorCode) string {
	switch code {
	case ErrInvalidRequest, ErrDuplicateBaseURL, ErrInvalidURL:
		return "invalid_request_error"
	case ErrAuthentication, ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrModelNotFound:
		return "model_not_found"
	case ErrRateLimit, ErrBackpressure:
		return "rate_limit"
	case ErrServiceUnavailable, ErrNoCapableEndpoints, ErrConflictingStatus:
		return "service_unavailable"
	case ErrUpstreamError, ErrUpstreamTimeout:
		return "upstream_error"
	case ErrNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

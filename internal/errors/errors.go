package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error is the structured error type for semsearch. It carries a stable
// code so callers can branch on failure class without string matching,
// and enough context for logging and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Upstream, etc.).
	Category Category

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Category and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error for malformed request fields.
func InvalidInput(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// DimensionMismatch creates an error for a vector of unexpected length.
func DimensionMismatch(expected, got int) *Error {
	return Newf(ErrCodeDimensionMismatch, "dimension mismatch: expected %d, got %d", expected, got).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got))
}

// EmptyInput creates an error for a build with zero records.
func EmptyInput(message string) *Error {
	return New(ErrCodeEmptyInput, message, nil)
}

// CorruptIndex creates an index integrity error. Fatal at load time.
func CorruptIndex(message string, cause error) *Error {
	return New(ErrCodeCorruptIndex, message, cause)
}

// UpstreamTimeout creates an error for an embedding call that exceeded
// its deadline.
func UpstreamTimeout(message string, cause error) *Error {
	return New(ErrCodeUpstreamTimeout, message, cause)
}

// EmbeddingFailed creates an error for an embedding-model failure.
func EmbeddingFailed(message string, cause error) *Error {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// BuildFailed creates an error for an index build that produced no records.
func BuildFailed(message string, cause error) *Error {
	return New(ErrCodeBuildFailed, message, cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of err if it is a structured Error,
// or ErrCodeInternal otherwise.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an Error with the Retryable flag set.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus maps an error to the HTTP status the service boundary
// should return. Validation failures are the caller's fault; everything
// else is a server-side failure.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput, ErrCodeDimensionMismatch, ErrCodeEmptyInput:
		return http.StatusBadRequest
	case ErrCodeIndexNotFound:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// RetryClass tells the retry layer whether another attempt can help.
type RetryClass int

const (
	// RetryUnknown means the producer did not classify the error.
	RetryUnknown RetryClass = iota
	// Retryable errors are transient (network, timeout, rate limit).
	Retryable
	// Terminal errors fail the same way on every attempt.
	Terminal
)

func (c RetryClass) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// transientPhrases is the substring fallback for errors that come back from
// opaque external calls and carry no class of their own.
var transientPhrases = []string{
	"timeout",
	"connection reset",
	"temporary failure",
	"service unavailable",
	"rate limit",
}

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retry     RetryClass        `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Retry:     defaultClass(errorType),
		Timestamp: time.Now(),
	}
}

func defaultClass(t ErrorType) RetryClass {
	switch t {
	case ErrorTypeTimeout, ErrorTypeExternal, ErrorTypeRateLimit, ErrorTypeUnavailable:
		return Retryable
	case ErrorTypeValidation, ErrorTypeConfig, ErrorTypeInternal, ErrorTypeNotFound:
		return Terminal
	default:
		return RetryUnknown
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRetry overrides the retry class derived from the error type
func (e *AppError) WithRetry(class RetryClass) *AppError {
	e.Retry = class
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewConfigError(message string) *AppError {
	return NewAppError(ErrorTypeConfig, "CONFIG_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewUnavailableError(component, message string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "SERVICE_UNAVAILABLE", message).
		WithDetail("component", component)
}

// Domain-specific errors
func NewAssignmentError(bugID, message string) *AppError {
	return NewAppError(ErrorTypeInternal, "ASSIGNMENT_ERROR", message).
		WithDetail("bug_id", bugID)
}

func NewRecoveryError(component, message string) *AppError {
	return NewAppError(ErrorTypeInternal, "RECOVERY_ERROR", message).
		WithDetail("component", component)
}

// classified wraps an opaque error with an explicit retry class.
type classified struct {
	err   error
	class RetryClass
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// MarkRetryable tags err as transient without changing its message.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, class: Retryable}
}

// MarkTerminal tags err as not worth retrying.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, class: Terminal}
}

// ClassOf returns the first explicit retry class found in the error chain,
// falling back to substring matching for untagged errors.
func ClassOf(err error) RetryClass {
	if err == nil {
		return RetryUnknown
	}

	for e := err; e != nil; e = stderrors.Unwrap(e) {
		switch v := e.(type) {
		case *classified:
			return v.class
		case *AppError:
			if v.Retry != RetryUnknown {
				return v.Retry
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return Retryable
		}
	}
	return RetryUnknown
}

// IsRetryable reports whether err should be retried. Untagged errors that do
// not match a transient phrase are treated as terminal.
func IsRetryable(err error) bool {
	return ClassOf(err) == Retryable
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

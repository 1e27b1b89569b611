// Package errors provides the structured error kinds reported by the asset resolver.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for resolver operations.
type ErrorCode string

const (
	// Resolution errors
	ErrCodeMalformedIdentifier ErrorCode = "MALFORMED_IDENTIFIER"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeNotResolved         ErrorCode = "NOT_RESOLVED"

	// Backend errors
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeFetchFailed        ErrorCode = "FETCH_FAILED"
	ErrCodeWriteFailed        ErrorCode = "WRITE_FAILED"

	// Scope errors
	ErrCodeScopeMismatch ErrorCode = "SCOPE_MISMATCH"

	// Package errors
	ErrCodeArchiveInvalid ErrorCode = "ARCHIVE_INVALID"
	ErrCodeEntryNotFound  ErrorCode = "ENTRY_NOT_FOUND"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryResolution    ErrorCategory = "resolution"
	CategoryBackend       ErrorCategory = "backend"
	CategoryScope         ErrorCategory = "scope"
	CategoryPackage       ErrorCategory = "package"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrMalformedIdentifier = &ResolverError{Code: ErrCodeMalformedIdentifier}
	ErrNotFound            = &ResolverError{Code: ErrCodeNotFound}
	ErrNotResolved         = &ResolverError{Code: ErrCodeNotResolved}
	ErrBackendUnavailable  = &ResolverError{Code: ErrCodeBackendUnavailable}
	ErrFetchFailed         = &ResolverError{Code: ErrCodeFetchFailed}
	ErrWriteFailed         = &ResolverError{Code: ErrCodeWriteFailed}
	ErrScopeMismatch       = &ResolverError{Code: ErrCodeScopeMismatch}
	ErrArchiveInvalid      = &ResolverError{Code: ErrCodeArchiveInvalid}
	ErrEntryNotFound       = &ResolverError{Code: ErrCodeEntryNotFound}
	ErrInvalidConfig       = &ResolverError{Code: ErrCodeInvalidConfig}
)

// ResolverError is a structured error carrying the identifier and
// backend context of a failed operation.
type ResolverError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Asset context
	Identifier string `json:"identifier,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Target     string `json:"target,omitempty"`
	Key        string `json:"key,omitempty"`

	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *ResolverError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		if e.Operation != "" {
			fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
		} else {
			fmt.Fprintf(&b, "[%s] ", e.Component)
		}
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Identifier != "" {
		fmt.Fprintf(&b, " (identifier=%s)", e.Identifier)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ResolverError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ResolverError) Is(target error) bool {
	if t, ok := target.(*ResolverError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ResolverError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Identifier != "" {
		parts = append(parts, fmt.Sprintf("Identifier=%s", e.Identifier))
	}
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("Backend=%s", e.Backend))
	}
	if e.Target != "" {
		parts = append(parts, fmt.Sprintf("Target=%s", e.Target))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("ResolverError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *ResolverError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new resolver error with default values.
func NewError(code ErrorCode, message string) *ResolverError {
	return &ResolverError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a format string.
func Newf(code ErrorCode, format string, args ...any) *ResolverError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeMalformedIdentifier, ErrCodeNotFound, ErrCodeNotResolved:
		return CategoryResolution
	case ErrCodeBackendUnavailable, ErrCodeFetchFailed, ErrCodeWriteFailed:
		return CategoryBackend
	case ErrCodeScopeMismatch:
		return CategoryScope
	case ErrCodeArchiveInvalid, ErrCodeEntryNotFound:
		return CategoryPackage
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a later explicit call may succeed.
// Nothing in the resolver retries automatically.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFetchFailed, ErrCodeWriteFailed:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first ResolverError in err's chain, or
// the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var re *ResolverError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// WithIdentifier sets the identifier being resolved
func (e *ResolverError) WithIdentifier(id string) *ResolverError {
	e.Identifier = id
	return e
}

// WithTarget sets the backend name and target
func (e *ResolverError) WithTarget(backend, target string) *ResolverError {
	e.Backend = backend
	e.Target = target
	return e
}

// WithKey sets the backend-local key
func (e *ResolverError) WithKey(key string) *ResolverError {
	e.Key = key
	return e
}

// WithComponent sets the component for an error
func (e *ResolverError) WithComponent(component string) *ResolverError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ResolverError) WithOperation(operation string) *ResolverError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ResolverError) WithCause(cause error) *ResolverError {
	e.Cause = cause
	return e
}

// Clone returns a shallow copy so shared errors can be annotated per call.
func (e *ResolverError) Clone() *ResolverError {
	c := *e
	return &c
}

// Package errors provides structured error types for facetd.
// All errors include a category, code, message, and retryable flag so that
// configuration and programming errors can be told apart from data errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of fault.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryData     ErrorCategory = "DATA"
	ErrCategoryProtocol ErrorCategory = "PROTOCOL"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategorySource   ErrorCategory = "SOURCE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes.
const (
	// Config codes
	CodeInvalidKey           = "INVALID_KEY"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeInvalidPlan          = "INVALID_PLAN"

	// Data codes
	CodeMalformedValue = "MALFORMED_VALUE"

	// Protocol codes
	CodeTypeMismatch             = "TYPE_MISMATCH"
	CodeUnsupportedProtocolState = "UNSUPPORTED_PROTOCOL_STATE"
	CodeBarrierTimeout           = "BARRIER_TIMEOUT"

	// Storage codes
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Source codes
	CodeSourceReadFailed = "SOURCE_READ_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FacetError is the structured error type used throughout the system.
type FacetError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FacetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FacetError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FacetError) Is(target error) bool {
	var t *FacetError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FacetError.
func New(category ErrorCategory, code, message string) *FacetError {
	return &FacetError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new FacetError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *FacetError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new FacetError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FacetError {
	return &FacetError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FacetError) WithDetails(details map[string]interface{}) *FacetError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FacetError.
func GetCategory(err error) ErrorCategory {
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FacetError.
func GetCode(err error) string {
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsDataError reports whether err is a per-document data fault that should be
// recorded and skipped rather than abort a pass.
func IsDataError(err error) bool {
	return GetCategory(err) == ErrCategoryData
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryProtocol && code == CodeBarrierTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewInvalidKey(message string) *FacetError {
	return New(ErrCategoryConfig, CodeInvalidKey, message)
}

func NewUnsupportedOperation(message string) *FacetError {
	return New(ErrCategoryConfig, CodeUnsupportedOperation, message)
}

func NewInvalidPlan(message string) *FacetError {
	return New(ErrCategoryConfig, CodeInvalidPlan, message)
}

func NewTypeMismatch(message string) *FacetError {
	return New(ErrCategoryProtocol, CodeTypeMismatch, message)
}

func NewUnsupportedProtocolState(message string) *FacetError {
	return New(ErrCategoryProtocol, CodeUnsupportedProtocolState, message)
}

func NewMalformedValue(message string) *FacetError {
	return New(ErrCategoryData, CodeMalformedValue, message)
}

func NewStorageError(code, message string, cause error) *FacetError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSourceError(message string, cause error) *FacetError {
	return Wrap(ErrCategorySource, CodeSourceReadFailed, message, cause)
}

func NewInternalError(message string, cause error) *FacetError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// RagError carries a stable error code plus the context the HTTP
// layer, the logs, and the retry machinery need: category, severity,
// retryability, and free-form details. Everything but Code and Message
// is derived from the code at construction.
type RagError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *RagError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is matches two RagErrors by code, so errors.Is works across
// separately constructed instances of the same failure.
func (e *RagError) Is(target error) bool {
	t, ok := target.(*RagError)
	return ok && e.Code == t.Code
}

// WithDetail attaches a key-value pair and returns the error for
// chaining.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user-facing hint and returns the error for
// chaining.
func (e *RagError) WithSuggestion(suggestion string) *RagError {
	e.Suggestion = suggestion
	return e
}

// New creates a RagError with category, severity, and retryability
// derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap lifts an existing error into a RagError under the given code,
// keeping its message. Returns nil for a nil error.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates an input-validation error.
func ValidationError(message string, cause error) *RagError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError creates a file-not-found error.
func NotFoundError(message string, cause error) *RagError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ConflictError creates a duplicate-resource error.
func ConflictError(message string, cause error) *RagError {
	return New(ErrCodeFileExists, message, cause)
}

// RemoteError creates a remote-provider error.
// Remote unavailability is typically retryable.
func RemoteError(message string, cause error) *RagError {
	return New(ErrCodeRemoteUnavailable, message, cause)
}

// EncoderError creates an encoder/scheduler error.
func EncoderError(message string, cause error) *RagError {
	return New(ErrCodeEncodeFailed, message, cause)
}

// CatalogError creates a catalog I/O error.
func CatalogError(message string, cause error) *RagError {
	return New(ErrCodeCatalogIO, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RagError {
	return New(ErrCodeInternal, message, cause)
}

// ragIn finds the first RagError in the chain, if any.
func ragIn(err error) *RagError {
	var re *RagError
	if stderrors.As(err, &re) {
		return re
	}
	return nil
}

// IsRetryable reports whether the error, anywhere in its chain, is a
// RagError marked retryable. Plain errors are never retryable.
func IsRetryable(err error) bool {
	re := ragIn(err)
	return re != nil && re.Retryable
}

// IsFatal reports whether the error carries fatal severity. Fatal
// errors abort the current operation rather than being skipped.
func IsFatal(err error) bool {
	re := ragIn(err)
	return re != nil && re.Severity == SeverityFatal
}

// GetCode extracts the error code, or "" for non-RagErrors.
func GetCode(err error) string {
	if re := ragIn(err); re != nil {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category, or "" for non-RagErrors.
func GetCategory(err error) Category {
	if re := ragIn(err); re != nil {
		return re.Category
	}
	return ""
}

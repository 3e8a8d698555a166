package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRagErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("original error")
	err := New(ErrCodeFileNotFound, "file not found: report.pdf", cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestRagErrorMessageFormat(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "validation error",
			code:     ErrCodeInvalidFilename,
			message:  "filename contains path separator",
			expected: "[ERR_102_INVALID_FILENAME] filename contains path separator",
		},
		{
			name:     "file error",
			code:     ErrCodeFileNotFound,
			message:  "report.pdf not found",
			expected: "[ERR_201_FILE_NOT_FOUND] report.pdf not found",
		},
		{
			name:     "remote error",
			code:     ErrCodeRemoteTimeout,
			message:  "embedding request timed out",
			expected: "[ERR_301_REMOTE_TIMEOUT] embedding request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestRagErrorIsMatchesByCodeOnly(t *testing.T) {
	missingA := New(ErrCodeFileNotFound, "file A not found", nil)
	missingB := New(ErrCodeFileNotFound, "file B not found", nil)
	exists := New(ErrCodeFileExists, "file already uploaded", nil)

	assert.True(t, errors.Is(missingA, missingB))
	assert.False(t, errors.Is(missingA, exists))
}

func TestRagErrorChaining(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil).
		WithDetail("path", "uploads/report.pdf").
		WithDetail("size", "1024").
		WithSuggestion("Check the upload directory")

	assert.Equal(t, "uploads/report.pdf", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
	assert.Equal(t, "Check the upload directory", err.Suggestion)
}

func TestCategoryDerivedFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeImageTooLarge, CategoryValidation},
		{ErrCodeConfigInvalid, CategoryValidation},
		{ErrCodeFileNotFound, CategoryFilesystem},
		{ErrCodeFileExists, CategoryFilesystem},
		{ErrCodeRemoteTimeout, CategoryRemote},
		{ErrCodeRemoteRejected, CategoryRemote},
		{ErrCodeEncodeFailed, CategoryEncoder},
		{ErrCodeSchedulerClosed, CategoryEncoder},
		{ErrCodeCatalogIO, CategoryCatalog},
		{ErrCodeCatalogCorrupt, CategoryCatalog},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeFeatureDisabled, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.wantCategory, New(tt.code, "test", nil).Category)
		})
	}
}

func TestRetryabilityDerivedFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeRemoteTimeout, true},
		{ErrCodeRemoteUnavailable, true},
		{ErrCodeRemoteRateLimited, true},
		{ErrCodeRemoteRejected, false},
		{ErrCodeFileNotFound, false},
		{ErrCodeEncodeFailed, false},
		{ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
			assert.Equal(t, tt.wantRetryable, IsRetryable(err))
		})
	}
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeRemoteTimeout, "embedding request timed out", nil)
	wrapped := fmt.Errorf("batch 7: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeRemoteTimeout, GetCode(wrapped))
	assert.Equal(t, CategoryRemote, GetCategory(wrapped))
}

func TestFatalSeverity(t *testing.T) {
	corrupt := New(ErrCodeCatalogCorrupt, "integrity check failed", nil)

	assert.Equal(t, SeverityFatal, corrupt.Severity)
	assert.True(t, IsFatal(corrupt))

	assert.False(t, IsFatal(New(ErrCodeFileNotFound, "missing", nil)))
	assert.False(t, IsFatal(nil))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestAccessorsOnPlainErrors(t *testing.T) {
	err := ConflictError("report.pdf already exists", nil)
	assert.Equal(t, ErrCodeFileExists, GetCode(err))
	assert.Equal(t, CategoryFilesystem, GetCategory(err))

	plain := errors.New("plain")
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
	assert.False(t, IsRetryable(plain))
}

// Package errors provides structured error handling for ragserver.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors (bad input, bad config)
//   - 2XX: Filesystem errors (uploads, trash, parsed output)
//   - 3XX: Remote provider errors (embedding/LLM/rerank APIs)
//   - 4XX: Encoder and scheduler errors
//   - 5XX: Catalog errors (status database)
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates input or configuration validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryFilesystem indicates upload-tree and working-dir I/O errors.
	CategoryFilesystem Category = "FILESYSTEM"
	// CategoryRemote indicates remote provider API errors.
	CategoryRemote Category = "REMOTE"
	// CategoryEncoder indicates encoder and batch scheduler errors.
	CategoryEncoder Category = "ENCODER"
	// CategoryCatalog indicates index-status catalog errors.
	CategoryCatalog Category = "CATALOG"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Validation errors (100-199)
	ErrCodeInvalidInput     = "ERR_101_INVALID_INPUT"
	ErrCodeInvalidFilename  = "ERR_102_INVALID_FILENAME"
	ErrCodeInvalidBase64    = "ERR_103_INVALID_BASE64"
	ErrCodeImageTooLarge    = "ERR_104_IMAGE_TOO_LARGE"
	ErrCodeUnsupportedMedia = "ERR_105_UNSUPPORTED_MEDIA"
	ErrCodeInvalidField     = "ERR_106_INVALID_FIELD"
	ErrCodeConfigInvalid    = "ERR_107_CONFIG_INVALID"

	// Filesystem errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeFileExists     = "ERR_203_FILE_EXISTS"
	ErrCodeDiskFull       = "ERR_204_DISK_FULL"
	ErrCodeFileTooLarge   = "ERR_205_FILE_TOO_LARGE"
	ErrCodeNotRegular     = "ERR_206_NOT_A_REGULAR_FILE"

	// Remote provider errors (300-399)
	ErrCodeRemoteTimeout     = "ERR_301_REMOTE_TIMEOUT"
	ErrCodeRemoteUnavailable = "ERR_302_REMOTE_UNAVAILABLE"
	ErrCodeRemoteRejected    = "ERR_303_REMOTE_REJECTED"
	ErrCodeRemoteRateLimited = "ERR_304_REMOTE_RATE_LIMITED"
	ErrCodeRemoteBadResponse = "ERR_305_REMOTE_BAD_RESPONSE"
	ErrCodeRemoteTripped     = "ERR_306_REMOTE_CIRCUIT_OPEN"

	// Encoder and scheduler errors (400-499)
	ErrCodeEncodeFailed      = "ERR_401_ENCODE_FAILED"
	ErrCodeSchedulerClosed   = "ERR_402_SCHEDULER_CLOSED"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeTokenizeFailed    = "ERR_404_TOKENIZE_FAILED"
	ErrCodeNativeUnavailable = "ERR_405_NATIVE_UNAVAILABLE"

	// Catalog errors (500-599)
	ErrCodeCatalogIO       = "ERR_501_CATALOG_IO"
	ErrCodeCatalogCorrupt  = "ERR_502_CATALOG_CORRUPT"
	ErrCodeRecordNotFound  = "ERR_503_RECORD_NOT_FOUND"
	ErrCodeCatalogConflict = "ERR_504_CATALOG_CONFLICT"

	// Internal errors (600-699)
	ErrCodeInternal        = "ERR_601_INTERNAL"
	ErrCodeFeatureDisabled = "ERR_602_FEATURE_DISABLED"
	ErrCodeNotInitialized  = "ERR_603_NOT_INITIALIZED"
	ErrCodeBadUpstream     = "ERR_604_BAD_UPSTREAM_RESPONSE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_FILE_NOT_FOUND")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryFilesystem
	case '3':
		return CategoryRemote
	case '4':
		return CategoryEncoder
	case '5':
		return CategoryCatalog
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeCatalogCorrupt, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Retryable remote errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Upstream 4xx responses (ErrCodeRemoteRejected) are deliberately absent:
// they are fatal and must propagate.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRemoteTimeout, ErrCodeRemoteUnavailable, ErrCodeRemoteRateLimited:
		return true
	default:
		return false
	}
}

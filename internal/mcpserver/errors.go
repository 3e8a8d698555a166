// Package mcpserver exposes retrieval, document processing and index
// diagnostics as Model Context Protocol tools over stdio, sharing the
// RAG facade and the status catalog with the HTTP server.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// JSON-RPC error codes. The -320xx band is implementation-defined.
const (
	// ErrCodeCatalogUnavailable indicates the status catalog cannot be read.
	ErrCodeCatalogUnavailable = -32001

	// ErrCodeProcessingFailed indicates document processing did not complete.
	ErrCodeProcessingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates the named document does not exist.
	ErrCodeFileNotFound = -32004

	// ErrCodeUpstreamUnavailable indicates a remote provider failure.
	ErrCodeUpstreamUnavailable = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Error is a JSON-RPC shaped protocol error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// InvalidParams builds a parameter-validation error with a custom message.
func InvalidParams(msg string) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts service errors onto JSON-RPC codes. Structured
// errors map by code first and category second; suggestions ride along
// in the message so the calling agent can act on them.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}

	var re *ragerrors.RagError
	if errors.As(err, &re) {
		return mapRagError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: ErrCodeTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &Error{Code: ErrCodeTimeout, Message: "request was canceled"}
	}
	return &Error{Code: ErrCodeInternalError, Message: err.Error()}
}

func mapRagError(re *ragerrors.RagError) *Error {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}

	switch re.Code {
	case ragerrors.ErrCodeFileNotFound, ragerrors.ErrCodeRecordNotFound:
		return &Error{Code: ErrCodeFileNotFound, Message: message}
	}

	switch re.Category {
	case ragerrors.CategoryValidation:
		return &Error{Code: ErrCodeInvalidParams, Message: message}
	case ragerrors.CategoryRemote:
		return &Error{Code: ErrCodeUpstreamUnavailable, Message: message}
	case ragerrors.CategoryEncoder:
		return &Error{Code: ErrCodeProcessingFailed, Message: message}
	case ragerrors.CategoryCatalog:
		return &Error{Code: ErrCodeCatalogUnavailable, Message: message}
	default:
		return &Error{Code: ErrCodeInternalError, Message: message}
	}
}

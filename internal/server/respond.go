package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a structured error onto an HTTP status and the uniform
// error body. Unstructured errors are internal.
func writeError(w http.ResponseWriter, err error) {
	var re *ragerrors.RagError
	if !errors.As(err, &re) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, statusFor(re), errorBody{
		Error:      re.Message,
		Code:       re.Code,
		Suggestion: re.Suggestion,
	})
}

func statusFor(re *ragerrors.RagError) int {
	switch re.Code {
	case ragerrors.ErrCodeFileNotFound, ragerrors.ErrCodeRecordNotFound:
		return http.StatusNotFound
	case ragerrors.ErrCodeFileExists, ragerrors.ErrCodeCatalogConflict:
		return http.StatusConflict
	case ragerrors.ErrCodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case ragerrors.ErrCodeFilePermission:
		return http.StatusForbidden
	case ragerrors.ErrCodeFeatureDisabled, ragerrors.ErrCodeRemoteTripped:
		return http.StatusServiceUnavailable
	}
	if re.Category == ragerrors.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// readJSON decodes a request body. An empty body decodes to the zero
// value so optional-body endpoints need no special casing; required
// fields are validated by the handlers.
func readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return ragerrors.ValidationError("invalid JSON body: "+err.Error(), err)
}

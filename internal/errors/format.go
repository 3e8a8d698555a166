package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders an error for terminal output: the message, the
// suggestion when there is one, and the code for bug reports. Plain
// errors are wrapped as internal first so the shape stays uniform.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	re := asRagError(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", re.Message)
	if re.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", re.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", re.Code)
	return sb.String()
}

// jsonError is the wire shape of a structured error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders an error for machine consumption (--json CLI
// output). nil marshals to JSON null.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	re := asRagError(err)

	je := jsonError{
		Code:       re.Code,
		Message:    re.Message,
		Category:   string(re.Category),
		Severity:   string(re.Severity),
		Details:    re.Details,
		Suggestion: re.Suggestion,
		Retryable:  re.Retryable,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs flattens an error into slog attributes: code, category and
// retryability for structured errors, details prefixed with detail_ so
// they cannot shadow the fixed keys. Plain errors yield a single error
// attribute.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	re, ok := err.(*RagError)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", re.Message),
		slog.String("error_code", re.Code),
		slog.String("category", string(re.Category)),
		slog.Bool("retryable", re.Retryable),
	}
	if re.Cause != nil {
		attrs = append(attrs, slog.String("cause", re.Cause.Error()))
	}
	keys := make([]string, 0, len(re.Details))
	for k := range re.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, re.Details[k]))
	}
	return attrs
}

func asRagError(err error) *RagError {
	if re, ok := err.(*RagError); ok {
		return re
	}
	return Wrap(ErrCodeInternal, err)
}

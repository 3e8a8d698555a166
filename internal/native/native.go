// Package native loads the optional in-process encoder runtime over a plain
// C ABI using purego, so the server binary stays CGO-free and installs
// anywhere. The runtime library is located through RAGSERVER_NATIVE_LIB;
// absence of the library is a construction-time error, never a panic.
//
// The ABI exchanges JSON strings: Go marshals inputs, the library returns a
// NUL-terminated JSON result buffer that it owns and reuses across calls.
// Calls on one session are therefore serialized behind a mutex.
package native

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ebitengine/purego"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// EnvLibPath names the environment variable holding the path of the encoder
// runtime shared library.
const EnvLibPath = "RAGSERVER_NATIVE_LIB"

// Symbols the runtime library must export. rag_count_tokens is optional;
// when absent the scheduler falls back to its byte-length heuristic.
const (
	symInit        = "rag_init"
	symEncode      = "rag_encode"
	symRerank      = "rag_rerank"
	symCountTokens = "rag_count_tokens"
	symLastError   = "rag_last_error"
	symClose       = "rag_close"
)

// Options is handed to rag_init as JSON. Unknown fields are ignored by the
// library, so model-specific knobs travel in Extra.
type Options struct {
	Model  string `json:"model"`
	Device string `json:"device,omitempty"`

	// PaddingSide and PadToken configure tokenizer padding for reranker
	// sessions. Causal rerankers need left padding with the pad token
	// defaulted to EOS.
	PaddingSide string `json:"padding_side,omitempty"`
	PadToken    string `json:"pad_token,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`

	// LibPath overrides EnvLibPath. Not part of the init payload.
	LibPath string `json:"-"`
}

// Runtime is one loaded library session. Safe for concurrent use; calls are
// serialized because the library reuses its result buffer.
type Runtime struct {
	mu     sync.Mutex
	handle uintptr
	sess   uintptr
	closed bool
	path   string

	encodeFn      func(sess uintptr, textsJSON string) string
	rerankFn      func(sess uintptr, reqJSON string) string
	countTokensFn func(sess uintptr, text string) int32
	lastErrorFn   func(sess uintptr) string
	closeFn       func(sess uintptr)
}

// Load opens the runtime library and initializes a session with opts.
func Load(opts Options) (*Runtime, error) {
	path := opts.LibPath
	if path == "" {
		path = os.Getenv(EnvLibPath)
	}
	if path == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeNativeUnavailable,
			"native encoder runtime not configured", nil).
			WithSuggestion(fmt.Sprintf("set %s to the runtime shared library, or use a remote backend", EnvLibPath))
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeNativeUnavailable,
			fmt.Sprintf("failed to load native runtime %s", path), err).
			WithDetail("lib_path", path)
	}

	rt := &Runtime{handle: handle, path: path}

	var initFn func(optionsJSON string) uintptr
	for _, bind := range []struct {
		name string
		ptr  any
	}{
		{symInit, &initFn},
		{symEncode, &rt.encodeFn},
		{symRerank, &rt.rerankFn},
		{symLastError, &rt.lastErrorFn},
		{symClose, &rt.closeFn},
	} {
		if _, err := purego.Dlsym(handle, bind.name); err != nil {
			_ = purego.Dlclose(handle)
			return nil, ragerrors.New(ragerrors.ErrCodeNativeUnavailable,
				fmt.Sprintf("native runtime %s does not export %s", path, bind.name), err)
		}
		purego.RegisterLibFunc(bind.ptr, handle, bind.name)
	}

	// Optional tokenizer symbol.
	if _, err := purego.Dlsym(handle, symCountTokens); err == nil {
		purego.RegisterLibFunc(&rt.countTokensFn, handle, symCountTokens)
	}

	payload, err := json.Marshal(opts)
	if err != nil {
		_ = purego.Dlclose(handle)
		return nil, ragerrors.InternalError("failed to encode native init options", err)
	}

	sess := initFn(string(payload))
	if sess == 0 {
		msg := rt.lastErrorFn(0)
		_ = purego.Dlclose(handle)
		if msg == "" {
			msg = "runtime init returned no session"
		}
		return nil, ragerrors.New(ragerrors.ErrCodeNativeUnavailable,
			fmt.Sprintf("native runtime init failed: %s", msg), nil).
			WithDetail("model", opts.Model).
			WithDetail("device", opts.Device)
	}
	rt.sess = sess

	return rt, nil
}

// HasTokenCounter reports whether the loaded library exports a tokenizer.
func (r *Runtime) HasTokenCounter() bool {
	return r.countTokensFn != nil
}

// LibPath returns the path the runtime was loaded from.
func (r *Runtime) LibPath() string {
	return r.path
}

// Encode embeds texts and returns one vector per input, in input order.
func (r *Runtime) Encode(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed, "native runtime is closed", nil)
	}

	payload, err := json.Marshal(texts)
	if err != nil {
		return nil, ragerrors.InternalError("failed to encode texts", err)
	}

	out := r.encodeFn(r.sess, string(payload))
	if out == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed, r.lastErrorLocked(), nil)
	}

	var vectors [][]float32
	if err := json.Unmarshal([]byte(out), &vectors); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed,
			"native runtime returned malformed vectors", err)
	}
	if len(vectors) != len(texts) {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed,
			fmt.Sprintf("native runtime returned %d vectors for %d texts", len(vectors), len(texts)), nil)
	}
	return vectors, nil
}

// CountTokens returns the tokenizer's count for text, or the byte length
// when the library cannot tokenize it. Callers should check
// HasTokenCounter before relying on tokenizer accuracy.
func (r *Runtime) CountTokens(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.countTokensFn == nil {
		return len(text)
	}
	n := int(r.countTokensFn(r.sess, text))
	if n < 0 {
		return len(text)
	}
	return n
}

// Rerank scores docs against query. Higher is more relevant.
func (r *Runtime) Rerank(query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed, "native runtime is closed", nil)
	}

	payload, err := json.Marshal(struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	}{Query: query, Documents: docs})
	if err != nil {
		return nil, ragerrors.InternalError("failed to encode rerank request", err)
	}

	out := r.rerankFn(r.sess, string(payload))
	if out == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed, r.lastErrorLocked(), nil)
	}

	var scores []float64
	if err := json.Unmarshal([]byte(out), &scores); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed,
			"native runtime returned malformed scores", err)
	}
	if len(scores) != len(docs) {
		return nil, ragerrors.New(ragerrors.ErrCodeEncodeFailed,
			fmt.Sprintf("native runtime returned %d scores for %d documents", len(scores), len(docs)), nil)
	}
	return scores, nil
}

// Close tears down the session and unloads the library. Idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.sess != 0 {
		r.closeFn(r.sess)
		r.sess = 0
	}
	if r.handle != 0 {
		err := purego.Dlclose(r.handle)
		r.handle = 0
		return err
	}
	return nil
}

func (r *Runtime) lastErrorLocked() string {
	if msg := r.lastErrorFn(r.sess); msg != "" {
		return msg
	}
	return "native runtime call failed"
}

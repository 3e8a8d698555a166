package native

import (
	"fmt"

	"github.com/ebitengine/purego"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// ProbeResult describes the symbol table of a probed runtime library.
type ProbeResult struct {
	Path            string
	Required        []string
	Missing         []string
	HasTokenCounter bool
}

// OK reports whether the library exports every symbol Load binds.
func (p *ProbeResult) OK() bool { return len(p.Missing) == 0 }

// Probe opens the library at path and inspects its symbol table without
// calling rag_init, so probing never allocates a model or touches the GPU.
// Missing symbols land in the result rather than an error, letting callers
// report all of them at once.
func Probe(path string) (*ProbeResult, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeNativeUnavailable,
			fmt.Sprintf("failed to load native runtime %s", path), err).
			WithDetail("lib_path", path)
	}
	defer func() { _ = purego.Dlclose(handle) }()

	res := &ProbeResult{Path: path}
	for _, name := range []string{symInit, symEncode, symRerank, symLastError, symClose} {
		res.Required = append(res.Required, name)
		if _, err := purego.Dlsym(handle, name); err != nil {
			res.Missing = append(res.Missing, name)
		}
	}
	if _, err := purego.Dlsym(handle, symCountTokens); err == nil {
		res.HasTokenCounter = true
	}
	return res, nil
}

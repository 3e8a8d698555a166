// Package main is a standalone probe for the native encoder runtime. The
// server loads the runtime with purego over a plain C ABI, which only works
// when the dynamic loader resolves libraries the same way from wherever the
// binary is installed. Stage one loads the system C library and round-trips
// getpid through it; stage two opens the library named by
// RAGSERVER_NATIVE_LIB and checks the symbols the server binds.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ebitengine/purego"

	"github.com/ragforge/ragserver/internal/native"
)

func main() {
	fmt.Println("native runtime probe")
	fmt.Printf("OS: %s, Arch: %s\n", runtime.GOOS, runtime.GOARCH)

	if err := probeSystemLibc(); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("FFI baseline OK")

	libPath := os.Getenv(native.EnvLibPath)
	if libPath == "" {
		fmt.Printf("\n%s is not set; skipping encoder runtime checks\n", native.EnvLibPath)
		return
	}

	fmt.Printf("\nProbing encoder runtime: %s\n", libPath)
	res, err := native.Probe(libPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}

	missing := make(map[string]bool, len(res.Missing))
	for _, name := range res.Missing {
		missing[name] = true
	}
	for _, name := range res.Required {
		state := "ok"
		if missing[name] {
			state = "MISSING"
		}
		fmt.Printf("  %-18s %s\n", name, state)
	}
	if res.HasTokenCounter {
		fmt.Println("  rag_count_tokens   ok (optional)")
	} else {
		fmt.Println("  rag_count_tokens   absent (optional, token counts fall back to byte lengths)")
	}

	if !res.OK() {
		fmt.Fprintln(os.Stderr, "\nFAIL: runtime is missing required symbols")
		os.Exit(1)
	}
	fmt.Println("\nPROBE PASSED: runtime exports the full encoder ABI")
}

// probeSystemLibc loads the platform C library and round-trips getpid to
// prove FFI works from this binary's install location.
func probeSystemLibc() error {
	var libPath string
	switch runtime.GOOS {
	case "darwin":
		libPath = "/usr/lib/libSystem.B.dylib"
	case "linux":
		libPath = "libc.so.6"
	default:
		return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}

	fmt.Printf("Loading system library: %s\n", libPath)
	lib, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("load %s: %w", libPath, err)
	}
	defer purego.Dlclose(lib)

	var getpid func() int32
	purego.RegisterLibFunc(&getpid, lib, "getpid")
	if got := int(getpid()); got != os.Getpid() {
		return fmt.Errorf("getpid mismatch: FFI says %d, Go says %d", got, os.Getpid())
	}
	return nil
}

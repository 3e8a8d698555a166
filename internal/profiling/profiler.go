// Package profiling writes runtime profiles for the --profile-* flags.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler owns the open profile files for a single process run.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

// NewProfiler creates a new Profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU starts CPU profiling into path. The returned cleanup stops the
// profile and closes the file; it must run before the process exits or the
// profile is unusable.
func (p *Profiler) StartCPU(path string) (cleanup func(), err error) {
	f, err := create(path, "cpu profile")
	if err != nil {
		return nil, err
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}
	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// WriteHeap writes a point-in-time heap profile to path.
func (p *Profiler) WriteHeap(path string) error {
	f, err := create(path, "heap profile")
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// GC first so the snapshot shows live objects, not garbage.
	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}

// StartTrace starts execution tracing into path. The returned cleanup stops
// the trace and closes the file.
func (p *Profiler) StartTrace(path string) (cleanup func(), err error) {
	f, err := create(path, "trace file")
	if err != nil {
		return nil, err
	}

	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start trace: %w", err)
	}
	p.traceFile = f

	return func() {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}, nil
}

func create(path, what string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", what, err)
	}
	return f, nil
}

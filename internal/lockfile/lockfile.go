// Package lockfile guards the working directory against concurrent
// writers. The catalog, the keyword index and the vector snapshot all
// assume a single writing process, so serve takes an exclusive flock on
// the working directory before touching any of them. The lock works
// across processes on all platforms.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// FileName is the lock file inside the working directory.
const FileName = ".ragserver.lock"

// Lock is an exclusive working-directory lock. The zero value is not
// usable; construct with New.
type Lock struct {
	fl    *flock.Flock
	owned bool
}

// New creates a lock for the working directory dir. Nothing is taken
// until Acquire.
func New(dir string) *Lock {
	return &Lock{fl: flock.New(filepath.Join(dir, FileName))}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Acquire takes the exclusive lock without blocking and records this
// process's PID in the lock file for diagnostics. When another process
// holds the lock the error names its PID if readable.
func (l *Lock) Acquire() error {
	dir := filepath.Dir(l.fl.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create working directory %s: %w", dir, err)
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		if pid, found := readPID(l.fl.Path()); found {
			return fmt.Errorf("working directory %s is locked by pid %d (another ragserver running?)", dir, pid)
		}
		return fmt.Errorf("working directory %s is locked by another process", dir)
	}

	// Advisory only; the flock is what excludes. Failing to record the
	// PID just degrades the error message the next contender sees.
	_ = os.WriteFile(l.fl.Path(), []byte(strconv.Itoa(os.Getpid())), 0o644)

	l.owned = true
	return nil
}

// Release drops the lock. Safe to call multiple times and on a lock
// that was never acquired. The lock file stays on disk; removing it
// would race with a contender that already opened it.
func (l *Lock) Release() error {
	if !l.owned {
		return nil
	}
	l.owned = false
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Held reports whether some other process currently holds the lock for
// dir, and that process's recorded PID when readable. It briefly takes
// and releases the lock to probe, so callers must not use it while they
// intend to keep the directory locked themselves.
func Held(dir string) (bool, int) {
	fl := flock.New(filepath.Join(dir, FileName))
	ok, err := fl.TryLock()
	if err != nil {
		// No directory or no permission: nothing can be holding it.
		return false, 0
	}
	if ok {
		_ = fl.Unlock()
		return false, 0
	}
	pid, _ := readPID(fl.Path())
	return true, pid
}

// Alive reports whether a process with the given PID exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 does the real probe.
	return proc.Signal(syscall.Signal(0)) == nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

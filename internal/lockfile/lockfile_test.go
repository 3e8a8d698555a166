package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir)

	require.NoError(t, lock.Acquire())

	// The lock file exists and records our PID
	data, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, lock.Release())
}

func TestLock_AcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "rag_storage")
	lock := New(dir)

	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	assert.DirExists(t, dir)
}

func TestLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	require.NoError(t, first.Acquire())
	defer func() { _ = first.Release() }()

	// flock treats independently opened descriptors as separate holders,
	// so a second instance contends even within one process.
	second := New(dir)
	err := second.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by pid "+strconv.Itoa(os.Getpid()))
}

func TestLock_ReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := New(dir)
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestLock_ReleaseWithoutAcquire(t *testing.T) {
	lock := New(t.TempDir())
	assert.NoError(t, lock.Release())
}

func TestLock_DoubleRelease(t *testing.T) {
	lock := New(t.TempDir())
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}

func TestHeld_Unheld(t *testing.T) {
	held, pid := Held(t.TempDir())
	assert.False(t, held)
	assert.Zero(t, pid)
}

func TestHeld_WhileAcquired(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir)
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	held, pid := Held(dir)
	assert.True(t, held)
	assert.Equal(t, os.Getpid(), pid)
}

func TestHeld_MissingDirectory(t *testing.T) {
	held, pid := Held(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.False(t, held)
	assert.Zero(t, pid)
}

func TestHeld_DoesNotStealLock(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir)
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	_, _ = Held(dir)

	// Probing must leave the holder's PID in place
	data, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
	// Beyond the default pid_max, so no process can have it
	assert.False(t, Alive(1<<30))
}

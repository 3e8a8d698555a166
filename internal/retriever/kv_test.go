package retriever

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONKV_MissingFileStartsEmpty(t *testing.T) {
	kv, err := OpenJSONKV(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, kv.Len())
}

func TestJSONKV_PutGetDelete(t *testing.T) {
	kv, err := OpenJSONKV(filepath.Join(t.TempDir(), "kv.json"))
	require.NoError(t, err)

	kv.Put("doc1", map[string]any{"processed": true})
	assert.True(t, kv.Has("doc1"))

	rec, ok := kv.Get("doc1")
	require.True(t, ok)
	assert.Equal(t, true, rec["processed"])

	kv.Delete("doc1")
	assert.False(t, kv.Has("doc1"))
	_, ok = kv.Get("doc1")
	assert.False(t, ok)

	// Deleting again is a no-op.
	kv.Delete("doc1")
}

func TestJSONKV_FlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")

	kv, err := OpenJSONKV(path)
	require.NoError(t, err)
	kv.Put("a", map[string]any{"entity_names": []string{"X", "Y"}})
	kv.Put("b", map[string]any{"count": 3})
	require.NoError(t, kv.Flush())

	reloaded, err := OpenJSONKV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())

	rec, ok := reloaded.Get("a")
	require.True(t, ok)
	// JSON round-trip turns []string into []any; StringValues handles both.
	assert.Equal(t, []string{"X", "Y"}, StringValues(rec["entity_names"]))
}

func TestJSONKV_FlushSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")

	kv, err := OpenJSONKV(path)
	require.NoError(t, err)

	// Nothing written yet, so no file appears.
	require.NoError(t, kv.Flush())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	kv.Put("k", map[string]any{"v": 1})
	require.NoError(t, kv.Flush())
	info1, err := os.Stat(path)
	require.NoError(t, err)

	// A clean flush leaves the file untouched.
	require.NoError(t, kv.Flush())
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestJSONKV_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenJSONKV(path)
	require.Error(t, err)
}

func TestJSONKV_ListIsSnapshot(t *testing.T) {
	kv, err := OpenJSONKV(filepath.Join(t.TempDir(), "kv.json"))
	require.NoError(t, err)
	kv.Put("a", map[string]any{"n": 1})

	listed, err := kv.List(context.Background())
	require.NoError(t, err)

	// Mutating the store after List must not change the snapshot's keys.
	kv.Put("b", map[string]any{"n": 2})
	assert.Len(t, listed, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, kv.Keys())
}

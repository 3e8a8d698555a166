package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// JSONKV is one key-value namespace persisted as a single JSON file.
// Mutations happen in memory; Flush writes the whole namespace through a
// temp file and rename, so readers never observe a torn file. Values are
// JSON objects, which keeps the on-disk format inspectable with plain
// tooling.
type JSONKV struct {
	mu    sync.RWMutex
	path  string
	data  map[string]map[string]any
	dirty bool
}

var _ KVReader = (*JSONKV)(nil)

// OpenJSONKV loads the namespace at path. A missing file yields an empty
// store; a corrupt file is an error rather than silent data loss.
func OpenJSONKV(path string) (*JSONKV, error) {
	kv := &JSONKV{path: path, data: make(map[string]map[string]any)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return kv, nil
	}
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("read kv store %s", path), err)
	}
	if len(raw) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(raw, &kv.data); err != nil {
		return nil, ragerrors.InternalError(
			fmt.Sprintf("kv store %s is not valid JSON", path), err).
			WithSuggestion("remove the file and reindex to rebuild it")
	}
	if kv.data == nil {
		kv.data = make(map[string]map[string]any)
	}
	return kv, nil
}

// Get returns the value for key, or false when absent. The returned map is
// shared; callers must not mutate it.
func (kv *JSONKV) Get(key string) (map[string]any, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok
}

// Has reports whether key exists.
func (kv *JSONKV) Has(key string) bool {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	_, ok := kv.data[key]
	return ok
}

// Put stores value under key, replacing any previous value.
func (kv *JSONKV) Put(key string, value map[string]any) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	kv.dirty = true
}

// Delete removes key. Deleting a missing key is a no-op.
func (kv *JSONKV) Delete(key string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, ok := kv.data[key]; ok {
		delete(kv.data, key)
		kv.dirty = true
	}
}

// Len returns the number of stored keys.
func (kv *JSONKV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.data)
}

// Keys returns all keys in unspecified order.
func (kv *JSONKV) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	return keys
}

// List returns a shallow copy of the namespace: the outer map is fresh, the
// value maps are shared with the store.
func (kv *JSONKV) List(ctx context.Context) (map[string]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kv.mu.RLock()
	defer kv.mu.RUnlock()

	out := make(map[string]map[string]any, len(kv.data))
	for k, v := range kv.data {
		out[k] = v
	}
	return out, nil
}

// Flush writes the namespace to disk if anything changed since the last
// flush. The write goes through a temp file and rename.
func (kv *JSONKV) Flush() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if !kv.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(kv.path), 0o755); err != nil {
		return ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("create kv directory for %s", kv.path), err)
	}

	data, err := json.MarshalIndent(kv.data, "", "  ")
	if err != nil {
		return ragerrors.InternalError(fmt.Sprintf("marshal kv store %s", kv.path), err)
	}

	tmpPath := kv.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("write kv store %s", kv.path), err)
	}
	if err := os.Rename(tmpPath, kv.path); err != nil {
		_ = os.Remove(tmpPath)
		return ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("replace kv store %s", kv.path), err)
	}

	kv.dirty = false
	return nil
}

package retriever

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// Vector index tuning defaults, applied when the config leaves them zero.
const (
	defaultVectorM  = 16
	defaultVectorEf = 100
)

// vectorIndex wraps a coder/hnsw graph with string chunk IDs and disk
// persistence. The graph keys are dense uint64s; idToKey/keyToID translate
// both ways. Removal is lazy: the mapping entry goes away but the node stays
// in the graph, because deleting the last graph node corrupts it. Orphaned
// nodes are filtered out of search results.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dims    int
	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64
	path    string
	closed  bool
}

// vectorMeta is the gob sidecar holding the ID mapping. The graph file
// itself carries the HNSW parameters.
type vectorMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// openVectorIndex creates or loads the index persisted at path (the meta
// sidecar lives at path+".meta"). dims must match the embedding provider; a
// persisted index built with a different dimension is rejected rather than
// silently mixed.
func openVectorIndex(path string, dims, m, ef int) (*vectorIndex, error) {
	if dims <= 0 {
		return nil, ragerrors.ValidationError("vector index needs a positive dimension", nil)
	}
	if m <= 0 {
		m = defaultVectorM
	}
	if ef <= 0 {
		ef = defaultVectorEf
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = ef
	graph.Ml = 0.25

	v := &vectorIndex{
		graph:   graph,
		dims:    dims,
		idToKey: make(map[string]uint64),
		keyToID: make(map[uint64]string),
		path:    path,
	}

	if _, err := os.Stat(path + ".meta"); os.IsNotExist(err) {
		return v, nil
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

// add inserts vectors under their chunk IDs, replacing existing entries.
// Vectors are copied and unit-normalized before insertion.
func (v *vectorIndex) add(ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return ragerrors.InternalError(
			fmt.Sprintf("vector index add: %d ids but %d vectors", len(ids), len(vectors)), nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.dims {
			return ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector has dimension %d, index expects %d", len(vec), v.dims), nil)
		}
	}

	for i, id := range ids {
		// Replacing an ID orphans its old graph node instead of deleting
		// it; hnsw deletion of the last node breaks the graph.
		if oldKey, ok := v.idToKey[id]; ok {
			delete(v.keyToID, oldKey)
			delete(v.idToKey, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalize(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idToKey[id] = key
		v.keyToID[key] = id
	}

	return nil
}

// vectorHit is one nearest-neighbor result.
type vectorHit struct {
	ID    string
	Score float64 // cosine similarity mapped to 0..1
}

// search returns up to k nearest chunks by cosine similarity, best first.
// Orphaned graph nodes are skipped, so fewer than k hits can come back.
func (v *vectorIndex) search(query []float32, k int) ([]vectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != v.dims {
		return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has dimension %d, index expects %d", len(query), v.dims), nil)
	}
	if v.graph.Len() == 0 || k <= 0 {
		return []vectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	nodes := v.graph.Search(q, k)
	hits := make([]vectorHit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyToID[node.Key]
		if !ok {
			continue // lazily deleted
		}
		dist := v.graph.Distance(q, node.Value)
		hits = append(hits, vectorHit{ID: id, Score: float64(1 - dist/2)})
	}
	return hits, nil
}

// remove drops IDs from the mapping. The graph nodes stay behind as orphans
// and disappear for good on the next full rebuild.
func (v *vectorIndex) remove(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	for _, id := range ids {
		if key, ok := v.idToKey[id]; ok {
			delete(v.keyToID, key)
			delete(v.idToKey, id)
		}
	}
}

func (v *vectorIndex) contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idToKey[id]
	return ok
}

func (v *vectorIndex) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idToKey)
}

// save exports the graph and the ID mapping, each through a temp file and
// rename.
func (v *vectorIndex) save() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return fmt.Errorf("create vector index directory: %w", err)
	}

	tmpPath := v.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export vector graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector index file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace vector index file: %w", err)
	}

	return v.saveMeta()
}

func (v *vectorIndex) saveMeta() error {
	metaPath := v.path + ".meta"
	tmpPath := metaPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector meta file: %w", err)
	}
	meta := vectorMeta{IDMap: v.idToKey, NextKey: v.nextKey, Dims: v.dims}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode vector meta: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector meta file: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// load restores the mapping and the graph from disk. The caller holds no
// lock yet (only called from openVectorIndex).
func (v *vectorIndex) load() error {
	metaFile, err := os.Open(v.path + ".meta")
	if err != nil {
		return fmt.Errorf("open vector meta: %w", err)
	}
	defer metaFile.Close()

	var meta vectorMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return ragerrors.InternalError("vector index metadata is corrupt", err).
			WithSuggestion("remove the retriever directory and reindex")
	}
	if meta.Dims != v.dims {
		return ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with %d-dimensional embeddings, the configured embedder produces %d",
				meta.Dims, v.dims), nil).
			WithSuggestion("reindex with the current embedding model or restore the previous one")
	}

	v.idToKey = meta.IDMap
	if v.idToKey == nil {
		v.idToKey = make(map[string]uint64)
	}
	v.nextKey = meta.NextKey
	v.keyToID = make(map[uint64]string, len(v.idToKey))
	for id, key := range v.idToKey {
		v.keyToID[key] = id
	}

	file, err := os.Open(v.path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer file.Close()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return ragerrors.InternalError("vector index file is corrupt", err).
			WithSuggestion("remove the retriever directory and reindex")
	}
	return nil
}

func (v *vectorIndex) close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

// normalize scales v to unit length in place. The zero vector stays zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

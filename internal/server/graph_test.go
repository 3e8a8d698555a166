package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// graphFixture wires an engine whose KV stores hold the given
// per-document records.
func graphFixture(t *testing.T, ents, rels fakeKV) *testServer {
	t.Helper()
	ts := newTestServer(t)
	ts.facade.eng = &fakeEngine{entities: ents, relations: rels}
	ts.facade.ready = true
	return ts
}

func nodeIDs(t *testing.T, m map[string]any) []string {
	t.Helper()
	raw, ok := m["nodes"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(raw))
	for _, n := range raw {
		ids = append(ids, n.(map[string]any)["id"].(string))
	}
	return ids
}

// ============================================================
// Graph data
// ============================================================

func TestGraphData_UnionsDocumentsIntoOneGraph(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{
			"doc1": {"entity_names": []string{"A", "B"}},
			"doc2": {"entity_names": []string{"B", "C"}},
		},
		fakeKV{
			"doc1": {"relation_pairs": [][]string{{"A", "B"}, {"B", "C"}}},
		},
	)

	code, m := ts.getJSON(t, "/api/graph/data?limit=100")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, []string{"A", "B", "C"}, nodeIDs(t, m))

	edges := m["edges"].([]any)
	require.Len(t, edges, 2)
	first := edges[0].(map[string]any)
	assert.Equal(t, "A", first["source"])
	assert.Equal(t, "B", first["target"])
	assert.Equal(t, "related", first["label"])
	assert.Equal(t, float64(1), first["weight"])
	second := edges[1].(map[string]any)
	assert.Equal(t, "B", second["source"])
	assert.Equal(t, "C", second["target"])

	stats := m["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["total_nodes"])
	assert.Equal(t, float64(2), stats["total_edges"])
	assert.InDelta(t, 1.3333, stats["avg_degree"], 1e-9)
	assert.InDelta(t, 0.6667, stats["graph_density"], 1e-9)
	_, hasErr := stats["error"]
	assert.False(t, hasErr)
}

func TestGraphData_WeightCountsRepeatedPairs(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{
			"doc1": {"entity_names": []string{"A", "B"}},
			"doc2": {"entity_names": []string{"A", "B"}},
		},
		fakeKV{
			"doc1": {"relation_pairs": [][]string{{"A", "B"}}},
			"doc2": {"relation_pairs": [][]string{{"A", "B"}}},
		},
	)

	code, m := ts.getJSON(t, "/api/graph/data")
	require.Equal(t, http.StatusOK, code)

	edges := m["edges"].([]any)
	require.Len(t, edges, 1)
	assert.Equal(t, float64(2), edges[0].(map[string]any)["weight"])
}

func TestGraphData_SkipsDanglingEdges(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{"doc1": {"entity_names": []string{"A", "B"}}},
		fakeKV{"doc1": {"relation_pairs": [][]string{{"A", "Ghost"}, {"A", "B"}}}},
	)

	code, m := ts.getJSON(t, "/api/graph/data")
	require.Equal(t, http.StatusOK, code)

	edges := m["edges"].([]any)
	require.Len(t, edges, 1)
	e := edges[0].(map[string]any)
	assert.Equal(t, "A", e["source"])
	assert.Equal(t, "B", e["target"])
}

func TestGraphData_LimitTruncatesNodesAndTheirEdges(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{
			"doc1": {"entity_names": []string{"A", "B"}},
			"doc2": {"entity_names": []string{"B", "C"}},
		},
		fakeKV{
			"doc1": {"relation_pairs": [][]string{{"A", "B"}, {"B", "C"}}},
		},
	)

	code, m := ts.getJSON(t, "/api/graph/data?limit=2")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, []string{"A", "B"}, nodeIDs(t, m))

	// The B-C edge loses its C endpoint to the cut.
	edges := m["edges"].([]any)
	require.Len(t, edges, 1)
	assert.Equal(t, "A", edges[0].(map[string]any)["source"])
}

func TestGraphData_MetadataToggle(t *testing.T) {
	ents := fakeKV{
		"doc1": {"entity_names": []string{"A"}},
		"doc2": {"entity_names": []string{"A"}},
	}
	rels := fakeKV{}

	ts := graphFixture(t, ents, rels)
	code, m := ts.getJSON(t, "/api/graph/data?include_metadata=true")
	require.Equal(t, http.StatusOK, code)
	nodes := m["nodes"].([]any)
	require.Len(t, nodes, 1)
	meta := nodes[0].(map[string]any)["metadata"].(map[string]any)
	assert.Equal(t, []any{"doc1", "doc2"}, meta["source_docs"])

	code, m = ts.getJSON(t, "/api/graph/data")
	require.Equal(t, http.StatusOK, code)
	nodes = m["nodes"].([]any)
	meta = nodes[0].(map[string]any)["metadata"].(map[string]any)
	assert.Empty(t, meta)
}

func TestGraphData_EmptyStoresAreZeroSafe(t *testing.T) {
	ts := graphFixture(t, fakeKV{}, fakeKV{})

	code, m := ts.getJSON(t, "/api/graph/data")
	require.Equal(t, http.StatusOK, code)

	assert.Empty(t, m["nodes"])
	assert.Empty(t, m["edges"])
	stats := m["stats"].(map[string]any)
	assert.Equal(t, float64(0), stats["total_nodes"])
	assert.Equal(t, float64(0), stats["avg_degree"])
	assert.Equal(t, float64(0), stats["graph_density"])
}

func TestGraphData_SingleNodeDensityIsZero(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{"doc1": {"entity_names": []string{"A"}}},
		fakeKV{},
	)

	code, m := ts.getJSON(t, "/api/graph/data")
	require.Equal(t, http.StatusOK, code)

	stats := m["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_nodes"])
	assert.Equal(t, float64(0), stats["graph_density"])
}

func TestGraphData_EngineFailureMapped(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.retrErr = ragerrors.New(ragerrors.ErrCodeNotInitialized,
		"no encoder available", nil)

	code, m := ts.getJSON(t, "/api/graph/data")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, ragerrors.ErrCodeNotInitialized, m["code"])
}

// ============================================================
// Graph stats
// ============================================================

func TestGraphStats_UninitializedReportsZerosWithoutConstruction(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.ready = false

	code, m := ts.getJSON(t, "/api/graph/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, m["initialized"])
	assert.Equal(t, float64(0), m["total_entities"])
	assert.Equal(t, float64(0), m["total_relations"])
	assert.Equal(t, ts.facade.workingDir, m["working_dir"])
}

func TestGraphStats_CountsDistinctNamesAndPairs(t *testing.T) {
	ts := graphFixture(t,
		fakeKV{
			"doc1": {"entity_names": []string{"A", "B"}},
			"doc2": {"entity_names": []string{"B", "C"}},
		},
		fakeKV{
			"doc1": {"relation_pairs": [][]string{{"A", "B"}}},
			"doc2": {"relation_pairs": [][]string{{"A", "B"}, {"B", "C"}}},
		},
	)

	code, m := ts.getJSON(t, "/api/graph/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, m["initialized"])
	assert.Equal(t, float64(3), m["total_entities"])
	assert.Equal(t, float64(2), m["total_relations"])
}

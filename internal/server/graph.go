package server

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/ragforge/ragserver/internal/retriever"
)

// defaultGraphLimit caps the node count when the caller does not ask
// for one. Edges get twice the node budget.
const defaultGraphLimit = 100

type graphNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

type graphEdge struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Label    string         `json:"label"`
	Weight   int            `json:"weight"`
	Metadata map[string]any `json:"metadata"`
}

type graphStats struct {
	TotalNodes   int     `json:"total_nodes"`
	TotalEdges   int     `json:"total_edges"`
	AvgDegree    float64 `json:"avg_degree"`
	GraphDensity float64 `json:"graph_density"`
}

type graphData struct {
	Nodes []graphNode `json:"nodes"`
	Edges []graphEdge `json:"edges"`
	Stats graphStats  `json:"stats"`
}

func (s *Server) handleGraphData(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultGraphLimit)
	includeMeta := queryBool(r, "include_metadata")

	eng, err := s.rag.Retriever(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	g, err := assembleGraph(r.Context(), eng.EntityKV(), eng.RelationKV(), limit, includeMeta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleGraphStats is a cheap probe: it never forces engine
// construction, reporting zeros until the first process or query.
func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	st := s.rag.Status()
	out := map[string]any{
		"initialized":     st.Initialized,
		"total_entities":  0,
		"total_relations": 0,
		"working_dir":     st.WorkingDir,
	}
	if !st.Initialized {
		writeJSON(w, http.StatusOK, out)
		return
	}

	eng, err := s.rag.Retriever(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entities, relations, err := countGraph(r.Context(), eng.EntityKV(), eng.RelationKV())
	if err != nil {
		writeError(w, err)
		return
	}
	out["total_entities"] = entities
	out["total_relations"] = relations
	writeJSON(w, http.StatusOK, out)
}

// assembleGraph unions the per-document entity and relation records
// into one graph. Documents are visited in sorted order so the node
// list is stable; names keep the order their records list them in.
// Edges whose endpoints did not make the node cut are skipped, and a
// pair seen in several documents becomes one edge with its weight set
// to the occurrence count.
func assembleGraph(ctx context.Context, entities, relations retriever.KVReader, limit int, includeMeta bool) (*graphData, error) {
	ents, err := entities.List(ctx)
	if err != nil {
		return nil, err
	}
	rels, err := relations.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		nodeOrder []string
		nodeSet   = make(map[string]bool)
		nodeDocs  = make(map[string][]string)
	)
	for _, doc := range sortedKeys(ents) {
		for _, name := range retriever.StringValues(ents[doc]["entity_names"]) {
			if !nodeSet[name] {
				if len(nodeOrder) >= limit {
					continue
				}
				nodeSet[name] = true
				nodeOrder = append(nodeOrder, name)
			}
			nodeDocs[name] = append(nodeDocs[name], doc)
		}
	}

	type pairKey struct{ src, dst string }
	var (
		edgeOrder []pairKey
		edgeCount = make(map[pairKey]int)
		edgeDocs  = make(map[pairKey][]string)
	)
	for _, doc := range sortedKeys(rels) {
		for _, pair := range retriever.PairValues(rels[doc]["relation_pairs"]) {
			if !nodeSet[pair[0]] || !nodeSet[pair[1]] {
				continue
			}
			k := pairKey{pair[0], pair[1]}
			if edgeCount[k] == 0 {
				if len(edgeOrder) >= 2*limit {
					continue
				}
				edgeOrder = append(edgeOrder, k)
			}
			edgeCount[k]++
			edgeDocs[k] = append(edgeDocs[k], doc)
		}
	}

	nodes := make([]graphNode, 0, len(nodeOrder))
	for _, name := range nodeOrder {
		n := graphNode{ID: name, Label: name, Type: "entity", Metadata: map[string]any{}}
		if includeMeta {
			n.Metadata["source_docs"] = nodeDocs[name]
		}
		nodes = append(nodes, n)
	}

	edges := make([]graphEdge, 0, len(edgeOrder))
	for _, k := range edgeOrder {
		e := graphEdge{
			Source:   k.src,
			Target:   k.dst,
			Label:    "related",
			Weight:   edgeCount[k],
			Metadata: map[string]any{},
		}
		if includeMeta {
			e.Metadata["source_docs"] = edgeDocs[k]
		}
		edges = append(edges, e)
	}

	return &graphData{
		Nodes: nodes,
		Edges: edges,
		Stats: graphStats{
			TotalNodes:   len(nodes),
			TotalEdges:   len(edges),
			AvgDegree:    round4(avgDegree(len(nodes), len(edges))),
			GraphDensity: round4(density(len(nodes), len(edges))),
		},
	}, nil
}

// countGraph tallies distinct entity names and distinct relation pairs
// across every document record.
func countGraph(ctx context.Context, entities, relations retriever.KVReader) (int, int, error) {
	ents, err := entities.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	rels, err := relations.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	names := make(map[string]struct{})
	for _, rec := range ents {
		for _, name := range retriever.StringValues(rec["entity_names"]) {
			names[name] = struct{}{}
		}
	}
	pairs := make(map[[2]string]struct{})
	for _, rec := range rels {
		for _, pair := range retriever.PairValues(rec["relation_pairs"]) {
			pairs[pair] = struct{}{}
		}
	}
	return len(names), len(pairs), nil
}

func avgDegree(nodes, edges int) float64 {
	if nodes == 0 {
		return 0
	}
	return 2 * float64(edges) / float64(nodes)
}

func density(nodes, edges int) float64 {
	if nodes < 2 {
		return 0
	}
	return 2 * float64(edges) / (float64(nodes) * float64(nodes-1))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

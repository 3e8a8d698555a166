package retriever

import "sort"

// rrfK is the reciprocal rank fusion smoothing constant. 60 is the value
// the major search engines settled on and it transfers well across corpora.
const rrfK = 60

// fusedHit is one chunk after rank fusion, best first.
type fusedHit struct {
	ID           string
	Score        float64 // fused score, scaled so the best hit is 1
	KeywordRank  int     // 1-indexed, 0 when absent from the keyword list
	VectorRank   int     // 1-indexed, 0 when absent from the vector list
	KeywordScore float64
	VectorScore  float64
	inBoth       bool
}

// fuseRanked merges the two rankings with weighted reciprocal rank fusion:
//
//	score(d) = wKeyword/(rrfK + kwRank) + wVector/(rrfK + vecRank)
//
// A chunk absent from one list takes that list's rank max(len(kw),
// len(vec))+1, so single-list chunks are penalized but not discarded. Ties
// break toward chunks present in both lists, then higher keyword score
// (exact-match signal), then lexicographic ID for determinism.
func fuseRanked(keyword []keywordHit, vector []vectorHit, wKeyword, wVector float64) []fusedHit {
	if len(keyword) == 0 && len(vector) == 0 {
		return []fusedHit{}
	}

	scores := make(map[string]*fusedHit, len(keyword)+len(vector))
	get := func(id string) *fusedHit {
		if h, ok := scores[id]; ok {
			return h
		}
		h := &fusedHit{ID: id}
		scores[id] = h
		return h
	}

	for rank, r := range keyword {
		h := get(r.ID)
		h.KeywordScore = r.Score
		h.KeywordRank = rank + 1
		h.Score += wKeyword / float64(rrfK+rank+1)
	}

	for rank, r := range vector {
		h := get(r.ID)
		h.VectorScore = r.Score
		h.VectorRank = rank + 1
		h.Score += wVector / float64(rrfK+rank+1)
		if h.KeywordRank > 0 {
			h.inBoth = true
		}
	}

	missingRank := len(keyword) + 1
	if len(vector) >= len(keyword) {
		missingRank = len(vector) + 1
	}
	for _, h := range scores {
		if h.KeywordRank == 0 {
			h.Score += wKeyword / float64(rrfK+missingRank)
		}
		if h.VectorRank == 0 {
			h.Score += wVector / float64(rrfK+missingRank)
		}
	}

	hits := make([]fusedHit, 0, len(scores))
	for _, h := range scores {
		hits = append(hits, *h)
	}
	sortFused(hits)

	// Scale so the best hit scores 1; downstream boosts stay comparable.
	if max := hits[0].Score; max > 0 {
		for i := range hits {
			hits[i].Score /= max
		}
	}
	return hits
}

// sortFused orders hits best first with deterministic tie-breaking.
func sortFused(hits []fusedHit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.inBoth != b.inBoth {
			return a.inBoth
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.ID < b.ID
	})
}

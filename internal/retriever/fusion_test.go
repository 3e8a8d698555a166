package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(hits []fusedHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestFuseRanked_EmptyInputs(t *testing.T) {
	assert.Empty(t, fuseRanked(nil, nil, 1, 1))
}

func TestFuseRanked_BothListsBeatSingleList(t *testing.T) {
	keyword := []keywordHit{{ID: "both", Score: 3}, {ID: "kw-only", Score: 2}}
	vector := []vectorHit{{ID: "vec-only", Score: 0.9}, {ID: "both", Score: 0.8}}

	hits := fuseRanked(keyword, vector, 1, 1)
	require.Len(t, hits, 3)

	// "both" is rank 1 keyword + rank 2 vector; each single-list chunk
	// pays the missing-rank penalty on its absent side.
	assert.Equal(t, "both", hits[0].ID)
	assert.True(t, hits[0].inBoth)
}

func TestFuseRanked_WeightsSteerOrder(t *testing.T) {
	keyword := []keywordHit{{ID: "kw", Score: 5}}
	vector := []vectorHit{{ID: "vec", Score: 0.99}}

	kwFirst := fuseRanked(keyword, vector, 1, 0.25)
	assert.Equal(t, "kw", kwFirst[0].ID)

	vecFirst := fuseRanked(keyword, vector, 0.25, 1)
	assert.Equal(t, "vec", vecFirst[0].ID)
}

func TestFuseRanked_BestHitScaledToOne(t *testing.T) {
	keyword := []keywordHit{{ID: "a", Score: 2}, {ID: "b", Score: 1}}
	hits := fuseRanked(keyword, nil, 1, 1)

	require.NotEmpty(t, hits)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-12)
	for _, h := range hits[1:] {
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestFuseRanked_DeterministicTieBreak(t *testing.T) {
	// Two chunks with identical ranks in symmetric lists tie on score;
	// the lexicographically smaller ID must win every run.
	keyword := []keywordHit{{ID: "zzz", Score: 1}, {ID: "aaa", Score: 1}}
	vector := []vectorHit{{ID: "aaa", Score: 0.5}, {ID: "zzz", Score: 0.5}}

	for i := 0; i < 5; i++ {
		hits := fuseRanked(keyword, vector, 1, 1)
		require.Len(t, hits, 2)
		assert.Equal(t, []string{"aaa", "zzz"}, ids(hits)[:2])
	}
}

func TestFuseRanked_RanksRecorded(t *testing.T) {
	keyword := []keywordHit{{ID: "x", Score: 4}}
	vector := []vectorHit{{ID: "y", Score: 0.7}, {ID: "x", Score: 0.6}}

	hits := fuseRanked(keyword, vector, 1, 1)
	byID := make(map[string]fusedHit, len(hits))
	for _, h := range hits {
		byID[h.ID] = h
	}

	assert.Equal(t, 1, byID["x"].KeywordRank)
	assert.Equal(t, 2, byID["x"].VectorRank)
	assert.Equal(t, 0, byID["y"].KeywordRank, "absent from keyword list")
	assert.Equal(t, 1, byID["y"].VectorRank)
}

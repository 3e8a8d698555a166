package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/internal/ingest"
)

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    extraction
	}{
		{
			name: "bare json",
			raw:  `{"entities":["A","B"],"relations":[["A","B"]]}`,
			want: extraction{Entities: []string{"A", "B"}, Relations: [][]string{{"A", "B"}}},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"entities\":[\"A\"],\"relations\":[]}\n```",
			want: extraction{Entities: []string{"A"}, Relations: [][]string{}},
		},
		{
			name: "prose around json",
			raw:  "Here is the graph you asked for:\n{\"entities\":[\"X\"],\"relations\":[]}\nHope that helps!",
			want: extraction{Entities: []string{"X"}, Relations: [][]string{}},
		},
		{
			name:    "no json at all",
			raw:     "I could not find any entities.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"entities": [unquoted]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExtraction(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Entities, got.Entities)
			assert.Equal(t, tt.want.Relations, got.Relations)
		})
	}
}

func TestStringValues(t *testing.T) {
	// Fresh values are []string; JSON-reloaded values are []any.
	assert.Equal(t, []string{"a", "b"}, StringValues([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, StringValues([]any{"a", "b"}))
	// Non-string members are skipped, non-list values yield nil.
	assert.Equal(t, []string{"a"}, StringValues([]any{"a", 7, nil}))
	assert.Nil(t, StringValues("a"))
	assert.Nil(t, StringValues(nil))
}

func TestPairValues(t *testing.T) {
	// Fresh shape.
	pairs := PairValues([][]string{{"A", "B"}, {"B", "C"}})
	assert.Equal(t, [][2]string{{"A", "B"}, {"B", "C"}}, pairs)

	// JSON-reloaded shape.
	pairs = PairValues([]any{
		[]any{"A", "B"},
		[]any{"B", "C", "extra"}, // wrong arity, skipped
		[]any{"", "D"},           // empty endpoint, skipped
		"not a pair",             // wrong type, skipped
	})
	assert.Equal(t, [][2]string{{"A", "B"}}, pairs)

	assert.Empty(t, PairValues(nil))
}

func TestDocumentExcerpt(t *testing.T) {
	chunks := []ingest.Chunk{
		{Text: "First chunk."},
		{Text: "Second chunk."},
	}

	full := documentExcerpt(chunks, 1000)
	assert.Equal(t, "First chunk.\n\nSecond chunk.", full)

	// The cap is enforced in runes, not bytes.
	short := documentExcerpt(chunks, 5)
	assert.Equal(t, "First", short)
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRerankDialect(t *testing.T) {
	tests := []struct {
		name string
		cfg  ModelConfig
		want rerankDialect
	}{
		{"jina model", ModelConfig{Model: "jina-reranker-v2"}, dialectJina},
		{"jina url", ModelConfig{Model: "m", BaseURL: "https://api.jina.ai/v1/rerank"}, dialectJina},
		{"cohere model", ModelConfig{Model: "rerank-english-v3.0", BaseURL: "https://api.cohere.ai"}, dialectCohere},
		{"voyage model", ModelConfig{Model: "voyage-rerank-2"}, dialectVoyage},
		{"unknown falls back to openai", ModelConfig{Model: "bge-reranker", BaseURL: "http://localhost:8000"}, dialectOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectRerankDialect(tt.cfg))
		})
	}
}

func TestRemoteRerankJinaWireShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// Results out of order and with an extra index to drop.
		fmt.Fprint(w, `{"results":[
			{"index":2,"relevance_score":0.1},
			{"index":0,"relevance_score":0.9},
			{"index":7,"relevance_score":0.5}
		]}`)
	}))
	defer srv.Close()

	rr, err := NewRemoteReranker(ModelConfig{
		Kind:    KindReranker,
		Model:   "jina-reranker-v2",
		BaseURL: srv.URL,
		APIKey:  "key",
	}, nil)
	require.NoError(t, err)
	defer rr.Shutdown()

	scores, err := rr.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)

	// Index 1 was missing: zero-padded. Index 7 was out of range: dropped.
	assert.Equal(t, []float64{0.9, 0, 0.1}, scores)

	assert.Equal(t, "q", gotBody["query"])
	assert.Equal(t, float64(3), gotBody["top_n"])
	assert.Equal(t, false, gotBody["return_documents"])
	assert.NotContains(t, gotBody, "top_k")
}

func TestRemoteRerankVoyageWireShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"data":[
			{"index":1,"relevance_score":0.8},
			{"index":0,"relevance_score":0.3}
		]}`)
	}))
	defer srv.Close()

	rr, err := NewRemoteReranker(ModelConfig{
		Kind:    KindReranker,
		Model:   "voyage-rerank-2",
		BaseURL: srv.URL,
		APIKey:  "key",
	}, nil)
	require.NoError(t, err)
	defer rr.Shutdown()

	scores, err := rr.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.8}, scores)

	assert.Equal(t, float64(2), gotBody["top_k"])
	assert.NotContains(t, gotBody, "top_n")
	assert.NotContains(t, gotBody, "return_documents")
}

func TestRemoteRerankOpenAIWireShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"results":[
			{"index":0,"score":0.6},
			{"index":1,"score":0.4}
		]}`)
	}))
	defer srv.Close()

	rr, err := NewRemoteReranker(ModelConfig{
		Kind:    KindReranker,
		Model:   "bge-reranker-large",
		BaseURL: srv.URL,
		APIKey:  "key",
	}, nil)
	require.NoError(t, err)
	defer rr.Shutdown()

	scores, err := rr.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.4}, scores)

	assert.NotContains(t, gotBody, "top_n")
	assert.NotContains(t, gotBody, "top_k")
}

func TestRemoteRerankEmptyDocs(t *testing.T) {
	rr, err := NewRemoteReranker(ModelConfig{
		Kind:   KindReranker,
		Model:  "jina-reranker-v2",
		APIKey: "key",
	}, nil)
	require.NoError(t, err)
	defer rr.Shutdown()

	scores, err := rr.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

func TestNewRemoteRerankerValidation(t *testing.T) {
	_, err := NewRemoteReranker(ModelConfig{Kind: KindReranker, Model: "jina-reranker-v2"}, nil)
	require.Error(t, err, "missing api_key must fail")

	// OpenAI-compatible dialect has no default endpoint.
	_, err = NewRemoteReranker(ModelConfig{Kind: KindReranker, Model: "bge-reranker", APIKey: "k"}, nil)
	require.Error(t, err, "openai dialect without base_url must fail")

	// Known dialects default their endpoint.
	rr, err := NewRemoteReranker(ModelConfig{Kind: KindReranker, Model: "rerank-english-v3.0-cohere", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, dialectCohere, rr.dialect)
	assert.Equal(t, rerankBaseURLs[dialectCohere], rr.cfg.BaseURL)
}

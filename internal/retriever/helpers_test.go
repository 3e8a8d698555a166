package retriever

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/ragforge/ragserver/internal/provider"
)

// testDim is the embedding dimension the fake embedder produces.
const testDim = 16

// bagEmbedder is a deterministic token-overlap embedder: each token bumps
// one dimension chosen by hash, so texts sharing words get similar vectors.
// Good enough for nearest-neighbor assertions without a real model.
type bagEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (e *bagEmbedder) Embed(ctx context.Context, texts []string, params provider.Params) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, tok := range tokenizeText(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (e *bagEmbedder) Dim() int { return testDim }

func (e *bagEmbedder) Shutdown() error { return nil }

func (e *bagEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// scriptedLLM answers with respond(prompt, opts) and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string, opts provider.CompleteOptions) (string, error)
}

func (l *scriptedLLM) Complete(ctx context.Context, prompt string, opts provider.CompleteOptions) (string, error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, prompt)
	l.mu.Unlock()
	if l.respond != nil {
		return l.respond(prompt, opts)
	}
	return "scripted answer", nil
}

func (l *scriptedLLM) CompleteStream(ctx context.Context, prompt string, opts provider.CompleteOptions) (<-chan provider.StreamChunk, error) {
	text, err := l.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Delta: text}
	close(ch)
	return ch, nil
}

func (l *scriptedLLM) Shutdown() error { return nil }

func (l *scriptedLLM) lastPrompt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.prompts) == 0 {
		return ""
	}
	return l.prompts[len(l.prompts)-1]
}

// lengthReranker scores documents by length so tests can predict the
// reranked order exactly.
type lengthReranker struct {
	calls int
}

func (r *lengthReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	r.calls++
	scores := make([]float64, len(docs))
	for i, d := range docs {
		scores[i] = float64(len(d))
	}
	return scores, nil
}

func (r *lengthReranker) Shutdown() error { return nil }

// cannedVision describes every image the same way.
type cannedVision struct {
	desc  string
	calls int
}

func (v *cannedVision) CompleteWithImages(ctx context.Context, prompt string, images []string, opts provider.CompleteOptions) (string, error) {
	v.calls++
	return v.desc, nil
}

func (v *cannedVision) Shutdown() error { return nil }

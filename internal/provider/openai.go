package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/metrics"
)

// Conventional endpoint suffixes for OpenAI-compatible APIs.
const (
	pathEmbeddings = "/embeddings"
	pathChat       = "/chat/completions"
)

// DefaultOpenAIBaseURL is used when a binding names no endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the OpenAI-compatible REST surface. One client serves
// whichever capabilities its binding is used for: embeddings, chat
// completions (blocking and SSE streaming), and vision via content parts.
type OpenAIClient struct {
	cfg     ModelConfig
	client  *remoteClient
	log     *slog.Logger
	backend string

	shutdown sync.Once
}

var (
	_ Embedder        = (*OpenAIClient)(nil)
	_ LLMCompleter    = (*OpenAIClient)(nil)
	_ VisionCompleter = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds a client for cfg. Remote embedding bindings must
// declare their dimension up front.
func NewOpenAIClient(cfg ModelConfig, log *slog.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, ragerrors.ValidationError(
			fmt.Sprintf("%s binding names no model", cfg.Kind), nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Kind == KindEmbedding && cfg.EmbeddingDim <= 0 {
		return nil, ragerrors.ValidationError(
			"remote embedding binding requires embedding_dim", nil).
			WithSuggestion("set embedding_dim to the model's output dimension")
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendOpenAI
	}

	if log == nil {
		log = slog.Default()
	}

	return &OpenAIClient{
		cfg:     cfg,
		client:  newRemoteClient(),
		log:     log,
		backend: backend,
	}, nil
}

// Embed implements Embedder. Vectors come back re-sorted by the response
// index so callers always see input order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string, _ Params) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"input":           texts,
		"encoding_format": "float",
	}

	url := endpointURL(c.cfg.BaseURL, pathEmbeddings)
	resp, err := ragerrors.RetryWithResult(ctx, ragerrors.RemoteRetryConfig(), func() (*embedResponse, error) {
		var out embedResponse
		if err := c.client.postJSON(ctx, url, c.cfg.APIKey, body, &out, embedTimeout, c.backend, KindEmbedding); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
				fmt.Sprintf("embedding index %d out of range for %d inputs", item.Index, len(texts)), nil)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
				fmt.Sprintf("no embedding returned for input %d", i), nil)
		}
	}

	c.log.Debug("openai_embed",
		slog.String("model", c.cfg.Model),
		slog.Int("texts", len(texts)))

	return vectors, nil
}

// Dim implements Embedder.
func (c *OpenAIClient) Dim() int {
	return c.cfg.EmbeddingDim
}

// Complete implements LLMCompleter.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	body := c.chatBody(c.textMessages(prompt, opts), opts, false)

	url := endpointURL(c.cfg.BaseURL, pathChat)
	resp, err := ragerrors.RetryWithResult(ctx, ragerrors.RemoteRetryConfig(), func() (*chatResponse, error) {
		var out chatResponse
		if err := c.client.postJSON(ctx, url, c.cfg.APIKey, body, &out, completeTimeout, c.backend, c.cfg.Kind); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
			"completion response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream implements LLMCompleter. Retry applies to opening the
// stream; mid-stream failures surface as the final chunk's Err.
func (c *OpenAIClient) CompleteStream(ctx context.Context, prompt string, opts CompleteOptions) (<-chan StreamChunk, error) {
	body := c.chatBody(c.textMessages(prompt, opts), opts, true)

	url := endpointURL(c.cfg.BaseURL, pathChat)
	resp, err := ragerrors.RetryWithResult(ctx, ragerrors.RemoteRetryConfig(), func() (*http.Response, error) {
		return c.openStream(ctx, url, body)
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go c.pumpStream(resp, ch)
	return ch, nil
}

// CompleteWithImages implements VisionCompleter. Images are base64 payloads
// wrapped as image_url data URLs; with no images this is a plain completion.
func (c *OpenAIClient) CompleteWithImages(ctx context.Context, prompt string, images []string, opts CompleteOptions) (string, error) {
	if len(images) == 0 {
		return c.Complete(ctx, prompt, opts)
	}

	parts := make([]map[string]any, 0, len(images)+1)
	parts = append(parts, map[string]any{"type": "text", "text": prompt})
	for _, img := range images {
		url := img
		if !strings.HasPrefix(img, "data:") {
			url = fmt.Sprintf("data:%s;base64,%s", detectImageMime(img), img)
		}
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": url},
		})
	}

	messages := c.leadMessages(opts)
	messages = append(messages, map[string]any{"role": "user", "content": parts})
	body := c.chatBody(messages, opts, false)

	url := endpointURL(c.cfg.BaseURL, pathChat)
	resp, err := ragerrors.RetryWithResult(ctx, ragerrors.RemoteRetryConfig(), func() (*chatResponse, error) {
		var out chatResponse
		if err := c.client.postJSON(ctx, url, c.cfg.APIKey, body, &out, completeTimeout, c.backend, KindVision); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
			"vision response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Shutdown implements the provider contract. Idempotent.
func (c *OpenAIClient) Shutdown() error {
	c.shutdown.Do(func() {
		c.client.closeIdle()
	})
	return nil
}

// leadMessages renders the system prompt and history turns.
func (c *OpenAIClient) leadMessages(opts CompleteOptions) []map[string]any {
	messages := make([]map[string]any, 0, len(opts.History)+2)
	if opts.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": opts.System})
	}
	for _, m := range opts.History {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	return messages
}

func (c *OpenAIClient) textMessages(prompt string, opts CompleteOptions) []map[string]any {
	messages := c.leadMessages(opts)
	return append(messages, map[string]any{"role": "user", "content": prompt})
}

// chatBody assembles the request body. Binding extras apply first so
// per-call extras can override them.
func (c *OpenAIClient) chatBody(messages []map[string]any, opts CompleteOptions, stream bool) map[string]any {
	body := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	for k, v := range c.cfg.Extra {
		body[k] = v
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		body["temperature"] = opts.Temperature
	}
	if stream {
		body["stream"] = true
	}
	return body
}

// openStream issues the streaming POST and returns the open response on 200.
// The caller owns resp.Body.
func (c *OpenAIClient) openStream(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ragerrors.InternalError("failed to encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, ragerrors.InternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.do(req, c.backend, c.cfg.Kind)
	if err != nil {
		return nil, err
	}

	metrics.RemoteRequests.WithLabelValues(c.backend, c.cfg.Kind, "ok").Inc()
	return resp, nil
}

// pumpStream reads SSE events until [DONE] and forwards deltas in
// generation order. The channel always closes.
func (c *OpenAIClient) pumpStream(resp *http.Response, ch chan<- StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Long deltas with embedded JSON can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			ch <- StreamChunk{Err: ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
				"failed to decode stream chunk", err)}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			ch <- StreamChunk{Delta: delta}
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- StreamChunk{Err: ragerrors.New(ragerrors.ErrCodeRemoteUnavailable,
			"stream interrupted", err)}
	}
}

// Wire shapes for the OpenAI-compatible surface.

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

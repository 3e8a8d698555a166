package server

import (
	"net/http"
	"strings"
	"time"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
)

type queryRequest struct {
	Query             string                     `json:"query"`
	Mode              string                     `json:"mode"`
	TopK              int                        `json:"top_k"`
	MaxTokens         int                        `json:"max_tokens"`
	Temperature       float64                    `json:"temperature"`
	MultimodalContent []retriever.MultimodalItem `json:"multimodal_content"`
	History           []chatTurn                 `json:"history"`
}

// chatTurn is one conversation turn on the wire. Timestamps are
// informational; ordering is positional.
type chatTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type queryResponse struct {
	Query    string            `json:"query"`
	Response string            `json:"response"`
	Mode     string            `json:"mode"`
	History  []chatTurn        `json:"history,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	answer, err := s.rag.Query(r.Context(), req.Query, req.Mode, req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResult(req, answer, nil))
}

func (s *Server) handleQueryMultimodal(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	answer, err := s.rag.QueryWithMultimodal(r.Context(), req.Query, req.MultimodalContent, req.Mode, req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResult(req, answer, nil))
}

// handleQueryConversation threads prior turns into the completion and
// echoes the history back extended with the new user and assistant
// turns.
func (s *Server) handleQueryConversation(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := req.options()
	opts.History = turnsToMessages(req.History)

	answer, err := s.rag.Query(r.Context(), req.Query, req.Mode, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	history := make([]chatTurn, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history,
		chatTurn{Role: "user", Content: req.Query, Timestamp: now},
		chatTurn{Role: "assistant", Content: answer, Timestamp: now},
	)
	writeJSON(w, http.StatusOK, queryResult(req, answer, history))
}

func decodeQuery(r *http.Request) (*queryRequest, error) {
	var req queryRequest
	if err := readJSON(r, &req); err != nil {
		return nil, err
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ragerrors.ValidationError("query is required", nil)
	}
	if !retriever.ValidMode(req.Mode) {
		return nil, ragerrors.ValidationError("unknown query mode: "+req.Mode, nil).
			WithSuggestion("use one of naive, local, global, hybrid")
	}
	if req.Mode == "" {
		req.Mode = retriever.ModeHybrid
	}
	return &req, nil
}

func (q *queryRequest) options() rag.QueryOptions {
	return rag.QueryOptions{
		TopK:        q.TopK,
		MaxTokens:   q.MaxTokens,
		Temperature: q.Temperature,
	}
}

func queryResult(req *queryRequest, answer string, history []chatTurn) queryResponse {
	return queryResponse{
		Query:    req.Query,
		Response: answer,
		Mode:     req.Mode,
		History:  history,
		Metadata: map[string]string{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func turnsToMessages(turns []chatTurn) []provider.Message {
	if len(turns) == 0 {
		return nil
	}
	msgs := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, provider.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

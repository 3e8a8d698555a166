package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ragforge/ragserver/internal/chat"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
)

func (s *Server) requireChat(w http.ResponseWriter) bool {
	if s.chat != nil {
		return true
	}
	writeError(w, ragerrors.New(ragerrors.ErrCodeFeatureDisabled,
		"chat persistence is disabled", nil))
	return false
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	if !s.requireChat(w) {
		return
	}
	sessions, err := s.chat.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireChat(w) {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.chat.CreateSession(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireChat(w) {
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := s.chat.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.chat.Messages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"messages": msgs,
	})
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireChat(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.chat.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"session_id": id,
	})
}

type chatMessageRequest struct {
	Content     string  `json:"content"`
	Mode        string  `json:"mode"`
	TopK        int     `json:"top_k"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// handleChatMessage answers one user message inside a session: prior
// turns become the completion history, and on success both the user
// and the assistant turn are persisted. A failed query stores nothing,
// so retries do not pile up unanswered turns.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireChat(w) {
		return
	}
	id := chi.URLParam(r, "id")

	var req chatMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, ragerrors.ValidationError("content is required", nil))
		return
	}
	if !retriever.ValidMode(req.Mode) {
		writeError(w, ragerrors.ValidationError("unknown query mode: "+req.Mode, nil).
			WithSuggestion("use one of naive, local, global, hybrid"))
		return
	}
	if req.Mode == "" {
		req.Mode = retriever.ModeHybrid
	}

	if _, err := s.chat.GetSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	prior, err := s.chat.Messages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	history := make([]provider.Message, 0, len(prior))
	for _, m := range prior {
		history = append(history, provider.Message{Role: m.Role, Content: m.Content})
	}

	answer, err := s.rag.Query(r.Context(), req.Content, req.Mode, rag.QueryOptions{
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		History:     history,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	userMsg, err := s.chat.AddMessage(r.Context(), id, chat.RoleUser, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	asstMsg, err := s.chat.AddMessage(r.Context(), id, chat.RoleAssistant, answer)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"response":   answer,
		"mode":       req.Mode,
		"messages":   []chat.Message{*userMsg, *asstMsg},
	})
}

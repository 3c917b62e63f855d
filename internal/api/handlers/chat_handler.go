package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/markdave123-py/kbchat/internal/models"
)

// Answerer is the question-answering service the chat endpoints call.
type Answerer interface {
	HandleQuestion(ctx context.Context, text string) string
	Search(ctx context.Context, text string, k int) ([]models.RetrievedChunk, error)
}

type ChatHandler struct {
	assistant Answerer
}

func NewChatHandler(a Answerer) *ChatHandler {
	return &ChatHandler{assistant: a}
}

type ChatRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// QueryKnowledgeBase answers a question over everything ingested.
func (h *ChatHandler) QueryKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	answer := h.assistant.HandleQuestion(r.Context(), req.Query)
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// Search returns the ranked chunks for a query without formatting an answer.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.assistant.Search(r.Context(), req.Query, req.K)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

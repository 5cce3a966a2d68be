package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/identity"
)

// conversationID extracts and validates the conversation ID path parameter.
// IDs are UUIDs assigned at match time; anything else is rejected before
// touching the store.
func conversationID(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// GetConversation returns the conversation if the caller participates.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	conv, err := h.chat.Conversation(r.Context(), id, userID)
	if err != nil {
		chatError(w, err)
		return
	}

	JSON(w, http.StatusOK, conv)
}

// EndConversation marks the conversation completed. Idempotent.
func (h *Handler) EndConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	if err := h.chat.End(r.Context(), id, userID); err != nil {
		chatError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// GetMessages returns the conversation's message history in log order.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	msgs, err := h.chat.History(r.Context(), id, userID)
	if err != nil {
		chatError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	JSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage appends a message to the conversation. Delivery to all
// participants, the sender included, happens over the live subscription.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "malformed request body")
		return
	}

	msg, err := h.chat.Send(r.Context(), id, userID, req.Content)
	if err != nil {
		chatError(w, err)
		return
	}

	JSON(w, http.StatusCreated, msg)
}

// GetPrompt returns the conversation's current prompt, assigning one if
// none exists yet. A 204 means the reference set is empty; the client
// treats a missing prompt as display-optional.
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	if _, err := h.chat.Conversation(r.Context(), id, userID); err != nil {
		chatError(w, err)
		return
	}

	p, err := h.prompts.Ensure(r.Context(), id, promptFilter(r))
	if err != nil {
		chatError(w, err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	JSON(w, http.StatusOK, p)
}

// RefreshPrompt assigns a fresh random prompt, preserving prior assignments
// as history.
func (h *Handler) RefreshPrompt(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := conversationID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "malformed conversation id")
		return
	}

	if _, err := h.chat.Conversation(r.Context(), id, userID); err != nil {
		chatError(w, err)
		return
	}

	p, err := h.prompts.Refresh(r.Context(), id, promptFilter(r))
	if err != nil {
		chatError(w, err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	JSON(w, http.StatusOK, p)
}

func promptFilter(r *http.Request) domain.PromptFilter {
	return domain.PromptFilter{
		Category:   r.URL.Query().Get("category"),
		Difficulty: r.URL.Query().Get("difficulty"),
	}
}

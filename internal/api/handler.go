// Package api provides HTTP handlers for the PeerMock API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/peermock/peermock/internal/chat"
	"github.com/peermock/peermock/internal/match"
	"github.com/peermock/peermock/internal/prompt"
	"github.com/peermock/peermock/internal/store"
)

// Handler exposes matchmaking, chat, and prompt operations over HTTP.
type Handler struct {
	repo     store.Repository
	matcher  *match.Matcher
	chat     *chat.Service
	prompts  *prompt.Assigner
	opts     match.Options
	mu       sync.Mutex
	sessions map[string]*match.SessionController
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, matcher *match.Matcher, chatSvc *chat.Service, prompts *prompt.Assigner, opts match.Options) *Handler {
	return &Handler{
		repo:     repo,
		matcher:  matcher,
		chat:     chatSvc,
		prompts:  prompts,
		opts:     opts,
		sessions: make(map[string]*match.SessionController),
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queue/join", h.JoinQueue)
		r.Post("/queue/leave", h.LeaveQueue)
		r.Get("/queue/status", h.QueueStatus)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Post("/end", h.EndConversation)
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.SendMessage)
			r.Get("/prompt", h.GetPrompt)
			r.Post("/prompt/refresh", h.RefreshPrompt)
		})
	})
}

// session returns the per-user session controller, creating it on first
// use. One controller per user keeps concurrent joins from the same user
// funneled through a single retry loop.
func (h *Handler) session(userID string) *match.SessionController {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sc, ok := h.sessions[userID]; ok {
		return sc
	}
	sc := match.NewSessionController(userID, h.repo, h.matcher, h.opts)
	h.sessions[userID] = sc
	return sc
}

// dropSession evicts a controller from the registry. The identity check
// keeps a concurrent re-join's fresh controller from being evicted along
// with the old one.
func (h *Handler) dropSession(userID string, sc *match.SessionController) {
	h.mu.Lock()
	if h.sessions[userID] == sc {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// chatError maps message-channel errors to HTTP responses.
func chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message content is empty")
	case errors.Is(err, chat.ErrConversationNotFound):
		Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrNotParticipant):
		Error(w, http.StatusForbidden, "not a participant of this conversation")
	default:
		slog.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/peermock/peermock/internal/identity"
)

// WebSocketHandler streams a conversation's messages over a WebSocket.
type WebSocketHandler struct {
	svc           *Service
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(svc *Service, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{svc: svc, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP upgrades the connection and streams messages for the
// conversation in the URL until the client disconnects. The subscription
// is released on every exit path.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")
	slog.Info("Message stream requested",
		"user_id", userID, "conversation_id", conversationID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	stream, err := h.svc.Open(r.Context(), conversationID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrConversationNotFound):
			http.Error(w, "conversation not found", http.StatusNotFound)
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, "not a participant", http.StatusForbidden)
		default:
			slog.Error("Failed to open message stream",
				"error", err, "conversation_id", conversationID)
			http.Error(w, "failed to open stream", http.StatusInternalServerError)
		}
		return
	}
	defer stream.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	// Sends arrive via the REST endpoint; the read side only watches for
	// the client going away.
	ctx := ws.CloseRead(r.Context())

	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStreamClosed) {
				slog.Debug("Message stream ended", "error", err, "conversation_id", conversationID)
			}
			return
		}

		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to encode message", "error", err, "message_id", msg.ID)
			continue
		}
		if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("WebSocket write failed, client likely gone",
				"error", err, "conversation_id", conversationID)
			return
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return u.Host == allowed.Host
}

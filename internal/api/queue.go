package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/peermock/peermock/internal/identity"
	"github.com/peermock/peermock/internal/match"
)

type joinQueueRequest struct {
	PreferredLevels      []string `json:"preferred_experience_levels"`
	PreferredTopics      []string `json:"preferred_topics"`
	PreferredDurationMin int      `json:"preferred_duration_minutes"`
}

// JoinQueue enters the caller into the matchmaking queue and starts the
// search loop. Joining while already searching restarts the session.
func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req joinQueueRequest
	if r.Body != nil {
		// An empty body means default preferences.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			Error(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	prefs := match.QueuePreferences{
		Levels:   req.PreferredLevels,
		Topics:   req.PreferredTopics,
		Duration: time.Duration(req.PreferredDurationMin) * time.Minute,
	}

	status, err := h.session(userID).Join(r.Context(), prefs)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, "queue temporarily unavailable")
		return
	}

	JSON(w, http.StatusAccepted, status)
}

// LeaveQueue exits the matchmaking queue. Idempotent.
func (h *Handler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}

	sc := h.session(userID)
	if err := sc.Leave(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "queue temporarily unavailable")
		return
	}

	// The controller is terminal now; drop it so the registry doesn't
	// accumulate one entry per user that ever queued.
	status := sc.Status()
	h.dropSession(userID, sc)

	JSON(w, http.StatusOK, status)
}

// QueueStatus reports the caller's session state, attempt count, and match
// result if one was found.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}

	JSON(w, http.StatusOK, h.session(userID).Status())
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/peermock/peermock/internal/chat"
	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/identity"
	"github.com/peermock/peermock/internal/match"
	"github.com/peermock/peermock/internal/prompt"
	"github.com/peermock/peermock/internal/store"
)

type testServer struct {
	router  chi.Router
	repo    store.Repository
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	hub := chat.NewHub()
	h := NewHandler(
		repo,
		match.NewMatcher(repo),
		chat.NewService(repo, hub),
		prompt.NewAssigner(repo),
		match.Options{Interval: 5 * time.Millisecond, MaxAttempts: 5, Deadline: time.Second},
	)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &testServer{router: r, repo: repo, handler: h}
}

// do issues a request with the given identity attached, the way the identity
// middleware would attach it in production.
func (ts *testServer) do(t *testing.T, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = req.WithContext(identity.WithUser(req.Context(), userID, "Test "+userID))
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// pairDirect creates an active conversation without going through the queue.
func pairDirect(t *testing.T, repo store.Repository, a, b string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{a, b} {
		err := repo.UpsertAvailability(ctx, &domain.AvailabilityEntry{
			UserID: id, Status: domain.StatusOnline, UpdatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("UpsertAvailability(%s) failed: %v", id, err)
		}
	}
	conv, err := repo.PairUsers(ctx, a, b, domain.KindText)
	if err != nil {
		t.Fatalf("PairUsers failed: %v", err)
	}
	return conv
}

func TestQueueRequiresIdentity(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/queue/join"},
		{http.MethodPost, "/api/v1/queue/leave"},
		{http.MethodGet, "/api/v1/queue/status"},
	} {
		w := ts.do(t, tc.method, tc.path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestQueueStatusStartsIdle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/queue/status", "", "user-a")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	status := decode[match.SessionStatus](t, w)
	if status.State != match.StateIdle {
		t.Errorf("Expected idle, got %s", status.State)
	}
}

func TestJoinQueueAloneReportsNoUsers(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/queue/join", "", "user-a")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	status := decode[match.SessionStatus](t, w)
	if status.State != match.StateNoUsersAvailable {
		t.Errorf("Expected no_users_available, got %s", status.State)
	}
}

func TestJoinQueueRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/queue/join", "{not json", "user-a")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestLeaveQueueIdempotent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodPost, "/api/v1/queue/leave", "", "user-a")
		if w.Code != http.StatusOK {
			t.Fatalf("Leave %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		status := decode[match.SessionStatus](t, w)
		if status.State != match.StateLeftQueue {
			t.Errorf("Leave %d: expected left_queue, got %s", i, status.State)
		}
	}

	// The controller is evicted on leave; the next poll starts fresh.
	status := decode[match.SessionStatus](t, ts.do(t, http.MethodGet, "/api/v1/queue/status", "", "user-a"))
	if status.State != match.StateIdle {
		t.Errorf("Expected idle after eviction, got %s", status.State)
	}
}

func (ts *testServer) sessionCount() int {
	ts.handler.mu.Lock()
	defer ts.handler.mu.Unlock()
	return len(ts.handler.sessions)
}

func TestLeaveQueueEvictsController(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/api/v1/queue/join", "", "user-a"); w.Code != http.StatusAccepted {
		t.Fatalf("Join: expected 202, got %d", w.Code)
	}
	if got := ts.sessionCount(); got != 1 {
		t.Fatalf("Expected 1 controller after join, got %d", got)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/queue/leave", "", "user-a"); w.Code != http.StatusOK {
		t.Fatalf("Leave: expected 200, got %d", w.Code)
	}
	if got := ts.sessionCount(); got != 0 {
		t.Errorf("Expected empty registry after leave, got %d controllers", got)
	}

	// Availability was released as part of leaving.
	entry, err := ts.repo.GetAvailability(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}
	if entry == nil || entry.Status != domain.StatusOffline {
		t.Errorf("Expected offline availability, got %+v", entry)
	}
}

func TestTwoUsersGetMatched(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/api/v1/queue/join", "", "user-a"); w.Code != http.StatusAccepted {
		t.Fatalf("Join a: expected 202, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/queue/join", "", "user-b"); w.Code != http.StatusAccepted {
		t.Fatalf("Join b: expected 202, got %d", w.Code)
	}

	var status match.SessionStatus
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status = decode[match.SessionStatus](t, ts.do(t, http.MethodGet, "/api/v1/queue/status", "", "user-a"))
		if status.State == match.StateMatched {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.State != match.StateMatched {
		t.Fatalf("Expected matched, got %s", status.State)
	}
	if status.Match == nil || status.Match.ConversationID == "" {
		t.Fatalf("Expected match result, got %+v", status.Match)
	}

	// Both participants can read the conversation; outsiders cannot.
	path := "/api/v1/conversations/" + status.Match.ConversationID + "/"
	for _, user := range []string{"user-a", "user-b"} {
		if w := ts.do(t, http.MethodGet, path, "", user); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", user, w.Code)
		}
	}
	if w := ts.do(t, http.MethodGet, path, "", "intruder"); w.Code != http.StatusForbidden {
		t.Errorf("Intruder: expected 403, got %d", w.Code)
	}
}

func TestConversationIDValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/conversations/not-a-uuid/", "", "user-a")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/conversations/00000000-0000-0000-0000-000000000000/", "", "user-a")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", w.Code)
	}
}

func TestSendAndListMessages(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conv := pairDirect(t, ts.repo, "user-a", "user-b")
	base := "/api/v1/conversations/" + conv.ID

	w := ts.do(t, http.MethodPost, base+"/messages", `{"content": "  "}`, "user-a")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Whitespace content: expected 400, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, base+"/messages", `{"content": "hello"}`, "intruder")
	if w.Code != http.StatusForbidden {
		t.Errorf("Intruder send: expected 403, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, base+"/messages", `{"content": "hello"}`, "user-a")
	if w.Code != http.StatusCreated {
		t.Fatalf("Send: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	sent := decode[*domain.Message](t, w)
	if sent.Content != "hello" || sent.SenderID != "user-a" {
		t.Errorf("Unexpected message %+v", sent)
	}

	msgs := decode[[]*domain.Message](t, ts.do(t, http.MethodGet, base+"/messages", "", "user-b"))
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Errorf("Expected the sent message back, got %+v", msgs)
	}
}

func TestGetMessagesEmptyIsArray(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conv := pairDirect(t, ts.repo, "user-a", "user-b")

	w := ts.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "", "user-a")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty array, got %q", body)
	}
}

func TestEndConversationIdempotent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conv := pairDirect(t, ts.repo, "user-a", "user-b")
	path := "/api/v1/conversations/" + conv.ID + "/end"

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodPost, path, "", "user-b")
		if w.Code != http.StatusOK {
			t.Fatalf("End %d: expected 200, got %d", i, w.Code)
		}
	}

	got, err := ts.repo.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != domain.ConversationCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
}

func TestPromptLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	if err := ts.repo.SeedPrompts(context.Background(), prompt.DefaultPrompts()); err != nil {
		t.Fatalf("SeedPrompts failed: %v", err)
	}
	conv := pairDirect(t, ts.repo, "user-a", "user-b")
	base := "/api/v1/conversations/" + conv.ID + "/prompt"

	w := ts.do(t, http.MethodGet, base, "", "user-a")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	first := decode[*domain.Prompt](t, w)

	// Both participants see the same prompt until a refresh.
	again := decode[*domain.Prompt](t, ts.do(t, http.MethodGet, base, "", "user-b"))
	if again.ID != first.ID {
		t.Errorf("Expected stable prompt %s, got %s", first.ID, again.ID)
	}

	w = ts.do(t, http.MethodPost, base+"/refresh", "", "user-a")
	if w.Code != http.StatusOK {
		t.Fatalf("Refresh: expected 200, got %d", w.Code)
	}
	refreshed := decode[*domain.Prompt](t, w)

	current := decode[*domain.Prompt](t, ts.do(t, http.MethodGet, base, "", "user-b"))
	if current.ID != refreshed.ID {
		t.Errorf("Expected refreshed prompt %s, got %s", refreshed.ID, current.ID)
	}

	if w := ts.do(t, http.MethodGet, base, "", "intruder"); w.Code != http.StatusForbidden {
		t.Errorf("Intruder prompt: expected 403, got %d", w.Code)
	}
}

func TestPromptEmptySetReturnsNoContent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conv := pairDirect(t, ts.repo, "user-a", "user-b")

	w := ts.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/prompt", "", "user-a")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}

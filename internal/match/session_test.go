package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peermock/peermock/internal/domain"
)

// fakeMatcher scripts AttemptMatch outcomes and records call counts.
type fakeMatcher struct {
	mu      sync.Mutex
	calls   int
	results []*domain.MatchResult // consumed per call; nil entries mean "no match"
	err     error
	started chan struct{} // closed when the first call begins, if set
	release chan struct{} // first call blocks until closed, if set
}

func (f *fakeMatcher) AttemptMatch(_ context.Context, _ string) (*domain.MatchResult, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	var result *domain.MatchResult
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	}
	err := f.err
	f.mu.Unlock()

	if first && f.started != nil {
		close(f.started)
	}
	if first && f.release != nil {
		<-f.release
	}
	return result, err
}

func (f *fakeMatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func fastOptions() Options {
	return Options{Interval: 5 * time.Millisecond, MaxAttempts: 3, Deadline: time.Second}
}

func TestJoinWithNobodyOnline(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	fm := &fakeMatcher{}
	sc := NewSessionController("user-a", repo, fm, fastOptions())

	status, err := sc.Join(context.Background(), QueuePreferences{})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if status.State != StateNoUsersAvailable {
		t.Errorf("Expected no_users_available, got %s", status.State)
	}
	if status.Attempts != 0 {
		t.Errorf("Expected 0 attempts, got %d", status.Attempts)
	}

	// The pre-check saved every matcher tick.
	time.Sleep(20 * time.Millisecond)
	if fm.callCount() != 0 {
		t.Errorf("Expected no matcher calls, got %d", fm.callCount())
	}
}

func TestJoinMatchesOnFirstAttempt(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	want := &domain.MatchResult{ConversationID: "conv-1", PartnerID: "user-b", PartnerDisplayName: "B"}
	fm := &fakeMatcher{results: []*domain.MatchResult{want}}
	sc := NewSessionController("user-a", repo, fm, fastOptions())

	status, err := sc.Join(context.Background(), QueuePreferences{})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if status.State != StateSearching && status.State != StateMatched {
		t.Fatalf("Expected searching right after join, got %s", status.State)
	}

	waitFor(t, time.Second, func() bool { return sc.Status().State == StateMatched })

	got := sc.Status()
	if got.Match == nil || got.Match.ConversationID != "conv-1" {
		t.Errorf("Expected match result retained, got %+v", got.Match)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}
}

func TestJoinExhaustsAttempts(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	fm := &fakeMatcher{} // never matches
	sc := NewSessionController("user-a", repo, fm, fastOptions())

	if _, err := sc.Join(context.Background(), QueuePreferences{}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sc.Status().State == StateNoUsersAvailable })

	if got := sc.Status().Attempts; got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if fm.callCount() != 3 {
		t.Errorf("Expected 3 matcher calls, got %d", fm.callCount())
	}
}

// TestDeadlineCapsSearch verifies the hard deadline terminates the session
// even when the attempt counter is far from exhausted.
func TestDeadlineCapsSearch(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	fm := &fakeMatcher{}
	opts := Options{Interval: 10 * time.Millisecond, MaxAttempts: 1000, Deadline: 50 * time.Millisecond}
	sc := NewSessionController("user-a", repo, fm, opts)

	start := time.Now()
	if _, err := sc.Join(context.Background(), QueuePreferences{}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sc.Status().State == StateNoUsersAvailable })

	elapsed := time.Since(start)
	if elapsed > 500*time.Millisecond {
		t.Errorf("Search overran deadline: %v", elapsed)
	}
	if got := sc.Status().Attempts; got >= 1000 {
		t.Errorf("Expected deadline to beat attempt exhaustion, got %d attempts", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	fm := &fakeMatcher{}
	sc := NewSessionController("user-a", repo, fm, fastOptions())
	ctx := context.Background()

	if _, err := sc.Join(ctx, QueuePreferences{}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := sc.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := sc.Leave(ctx); err != nil {
		t.Fatalf("Second Leave failed: %v", err)
	}

	if got := sc.Status().State; got != StateLeftQueue {
		t.Errorf("Expected left_queue, got %s", got)
	}

	entry, err := repo.GetAvailability(ctx, "user-a")
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}
	if entry.Status != domain.StatusOffline {
		t.Errorf("Expected offline after leave, got %s", entry.Status)
	}
}

func TestLeaveBeforeJoin(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	sc := NewSessionController("user-a", repo, &fakeMatcher{}, fastOptions())

	// Leave with no availability entry at all is safe.
	if err := sc.Leave(context.Background()); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if got := sc.Status().State; got != StateLeftQueue {
		t.Errorf("Expected left_queue, got %s", got)
	}
}

// TestInFlightResultDiscardedAfterLeave lets an attempt finish after the
// session has left the queue and verifies its result never surfaces.
//
// Run with: go test -race ./internal/match/...
func TestInFlightResultDiscardedAfterLeave(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	stale := &domain.MatchResult{ConversationID: "conv-stale", PartnerID: "user-b"}
	fm := &fakeMatcher{
		results: []*domain.MatchResult{stale},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	sc := NewSessionController("user-a", repo, fm, fastOptions())
	ctx := context.Background()

	if _, err := sc.Join(ctx, QueuePreferences{}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	<-fm.started
	if err := sc.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	close(fm.release)

	// The blocked attempt now returns a match, but the session is terminal.
	time.Sleep(30 * time.Millisecond)
	got := sc.Status()
	if got.State != StateLeftQueue {
		t.Errorf("Expected left_queue, got %s", got.State)
	}
	if got.Match != nil {
		t.Errorf("Stale result surfaced: %+v", got.Match)
	}
}

// TestRejoinSupersedesActiveLoop verifies a second Join cancels the first
// loop rather than driving two concurrent search loops.
func TestRejoinSupersedesActiveLoop(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	joinQueue(t, repo, "user-b")

	fm := &fakeMatcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	sc := NewSessionController("user-a", repo, fm, fastOptions())
	ctx := context.Background()

	if _, err := sc.Join(ctx, QueuePreferences{}); err != nil {
		t.Fatalf("First Join failed: %v", err)
	}
	<-fm.started

	if _, err := sc.Join(ctx, QueuePreferences{}); err != nil {
		t.Fatalf("Second Join failed: %v", err)
	}
	close(fm.release)

	// Attempts belong to the second session only; the first loop's blocked
	// attempt must not be counted after it unblocks.
	waitFor(t, time.Second, func() bool { return sc.Status().State == StateNoUsersAvailable })

	if err := sc.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
}

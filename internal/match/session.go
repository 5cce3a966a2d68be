package match

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/store"
)

// SessionState is a state of the matchmaking session machine.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateQueued           SessionState = "queued"
	StateSearching        SessionState = "searching"
	StateMatched          SessionState = "matched"
	StateNoUsersAvailable SessionState = "no_users_available"
	StateLeftQueue        SessionState = "left_queue"
)

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	switch s {
	case StateMatched, StateNoUsersAvailable, StateLeftQueue:
		return true
	}
	return false
}

// Options configures the retry loop. Zero values take the defaults.
type Options struct {
	// Interval between match attempts.
	Interval time.Duration
	// MaxAttempts bounds the number of match attempts.
	MaxAttempts int
	// Deadline caps total search wall-clock time independently of the
	// attempt counter.
	Deadline time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Second
	}
	return o
}

// MatchAttempter is the matcher surface the controller depends on.
type MatchAttempter interface {
	AttemptMatch(ctx context.Context, requesterID string) (*domain.MatchResult, error)
}

// QueuePreferences are the matching preferences supplied on queue join.
type QueuePreferences struct {
	Levels   []string
	Topics   []string
	Duration time.Duration
}

// SessionStatus is a snapshot of the session for UI feedback.
type SessionStatus struct {
	State    SessionState        `json:"state"`
	Attempts int                 `json:"attempts"`
	Match    *domain.MatchResult `json:"match,omitempty"`
}

// SessionController drives repeated match attempts for one user with bounded
// retries and a hard deadline. At most one retry loop is active at a time;
// a new Join supersedes the previous loop before starting its own.
type SessionController struct {
	userID  string
	repo    store.Repository
	matcher MatchAttempter
	opts    Options

	mu         sync.Mutex
	state      SessionState
	attempts   int
	result     *domain.MatchResult
	cancel     context.CancelFunc
	generation uint64 // bumped on every Join; stale loops check it before mutating
}

// NewSessionController creates a controller for one user's matchmaking
// sessions.
func NewSessionController(userID string, repo store.Repository, matcher MatchAttempter, opts Options) *SessionController {
	return &SessionController{
		userID:  userID,
		repo:    repo,
		matcher: matcher,
		opts:    opts.withDefaults(),
		state:   StateIdle,
	}
}

// Status returns a snapshot of the session.
func (c *SessionController) Status() SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionStatus{State: c.state, Attempts: c.attempts, Match: c.result}
}

// Join enters the matchmaking queue and starts the retry loop. Any loop
// still running from a previous Join is canceled first so the same logical
// user never drives concurrent match attempts.
func (c *SessionController) Join(ctx context.Context, prefs QueuePreferences) (SessionStatus, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	gen := c.generation
	c.state = StateQueued
	c.attempts = 0
	c.result = nil
	c.mu.Unlock()

	entry := &domain.AvailabilityEntry{
		UserID:            c.userID,
		Status:            domain.StatusOnline,
		PreferredLevels:   prefs.Levels,
		PreferredTopics:   prefs.Topics,
		PreferredDuration: prefs.Duration,
		UpdatedAt:         time.Now(),
	}
	if err := c.repo.UpsertAvailability(ctx, entry); err != nil {
		c.transition(gen, StateIdle, nil)
		return c.Status(), err
	}

	// Pre-check: with nobody else online there is nothing to search for.
	count, err := c.repo.CountOnline(ctx, c.userID)
	if err != nil {
		// Transient; the tick loop will find out for itself.
		slog.Warn("Online pre-check failed, searching anyway", "user_id", c.userID, "error", err)
		count = -1
	}
	if count == 0 {
		c.transition(gen, StateNoUsersAvailable, nil)
		return c.Status(), nil
	}

	// The loop outlives the join request; it is canceled by Leave, by a
	// superseding Join, or by its own terminal transition.
	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		cancel()
		return c.Status(), nil
	}
	c.state = StateSearching
	c.cancel = cancel
	c.mu.Unlock()

	go c.searchLoop(loopCtx, gen)

	return c.Status(), nil
}

func (c *SessionController) searchLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.opts.Deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			c.transition(gen, StateNoUsersAvailable, nil)
			return

		case <-ticker.C:
			attempt, ok := c.beginAttempt(gen)
			if !ok {
				return
			}

			result, err := c.matcher.AttemptMatch(ctx, c.userID)
			if err != nil {
				// Transient store failure; retry at the next tick.
				slog.Warn("Match attempt failed",
					"user_id", c.userID, "attempt", attempt, "error", err)
			}
			if result != nil {
				if !c.transition(gen, StateMatched, result) {
					// Session ended while the attempt was in flight;
					// the result is discarded.
					slog.Info("Discarding match result for ended session",
						"user_id", c.userID, "conversation_id", result.ConversationID)
				}
				return
			}

			if attempt >= c.opts.MaxAttempts {
				c.transition(gen, StateNoUsersAvailable, nil)
				return
			}
		}
	}
}

// beginAttempt increments the attempt counter if the loop is still current.
func (c *SessionController) beginAttempt(gen uint64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state != StateSearching {
		return 0, false
	}
	c.attempts++
	return c.attempts, true
}

// transition moves the session to a terminal (or reset) state, releasing
// the loop's cancel func. Returns false if the loop was superseded or the
// session already left Searching, in which case nothing is mutated.
func (c *SessionController) transition(gen uint64, to SessionState, result *domain.MatchResult) bool {
	c.mu.Lock()
	if c.generation != gen || c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.result = result
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Leave exits the queue. Safe to call from any state and idempotent:
// repeated calls settle in LeftQueue with availability offline. A claim
// that already flipped the entry away is left alone.
func (c *SessionController) Leave(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.state = StateLeftQueue
	c.attempts = 0
	c.result = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	err := c.repo.UpdateAvailabilityStatus(ctx, c.userID, domain.StatusOffline, domain.StatusOnline)
	if errors.Is(err, store.ErrStatusConflict) {
		// Not online anymore: already left, or claimed into a match.
		return nil
	}
	return err
}

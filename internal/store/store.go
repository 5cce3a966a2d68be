// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/peermock/peermock/internal/domain"
)

var (
	// ErrStatusConflict is returned by UpdateAvailabilityStatus when the
	// expected-status guard does not match the stored row.
	ErrStatusConflict = errors.New("availability status changed concurrently")

	// ErrClaimConflict is returned by PairUsers when the candidate was
	// claimed by another requester first.
	ErrClaimConflict = errors.New("candidate already claimed")

	// ErrRequesterGone is returned by PairUsers when the requester's own
	// entry is no longer online (left the queue or was claimed mid-attempt).
	ErrRequesterGone = errors.New("requester no longer queued")
)

// Repository defines the interface for persisting matchmaking and chat data.
// Getters return (nil, nil) when the record does not exist.
type Repository interface {
	// GetAvailability retrieves a user's availability entry.
	GetAvailability(ctx context.Context, userID string) (*domain.AvailabilityEntry, error)

	// UpsertAvailability creates or updates a user's availability entry,
	// replacing status and preferences. Used by queue join.
	UpsertAvailability(ctx context.Context, entry *domain.AvailabilityEntry) error

	// UpdateAvailabilityStatus sets a user's status. If expected is
	// non-empty the update only happens when the current status matches
	// (conditional update); a failed guard returns ErrStatusConflict.
	UpdateAvailabilityStatus(ctx context.Context, userID string, to, expected domain.AvailabilityStatus) error

	// CountOnline counts online users other than excludeUserID.
	CountOnline(ctx context.Context, excludeUserID string) (int, error)

	// ListOnlineCandidates returns online entries other than excludeUserID,
	// earliest-queued first with user_id as the total-order tie-break.
	ListOnlineCandidates(ctx context.Context, excludeUserID string) ([]*domain.AvailabilityEntry, error)

	// ReleaseStaleAvailability flips online entries not refreshed within
	// olderThan back to offline and reports how many rows changed.
	ReleaseStaleAvailability(ctx context.Context, olderThan time.Duration) (int64, error)

	// PairUsers atomically claims both users (online -> away) and creates
	// the conversation, all in one transaction. Returns ErrClaimConflict if
	// the candidate's claim fails, ErrRequesterGone if the requester's does;
	// in either case no conversation row is created.
	PairUsers(ctx context.Context, requesterID, candidateID string, kind domain.ConversationKind) (*domain.Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// CompleteConversation marks an active conversation completed with the
	// given end time. Completing an already-completed conversation is a
	// no-op success.
	CompleteConversation(ctx context.Context, id string, endedAt time.Time) error

	// InsertMessage appends a message to a conversation's log and returns
	// the stored row, including its assigned sequence number.
	InsertMessage(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error)

	// ListMessages returns a conversation's messages ordered by creation
	// time, sequence number breaking ties.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// ListPrompts returns reference prompts matching the filter.
	ListPrompts(ctx context.Context, filter domain.PromptFilter) ([]*domain.Prompt, error)

	// GetPrompt retrieves a single prompt by ID.
	GetPrompt(ctx context.Context, id string) (*domain.Prompt, error)

	// SeedPrompts inserts reference prompts, skipping IDs already present.
	SeedPrompts(ctx context.Context, prompts []*domain.Prompt) error

	// CurrentPromptAssignment returns the most recently shown assignment
	// for a conversation.
	CurrentPromptAssignment(ctx context.Context, conversationID string) (*domain.PromptAssignment, error)

	// InsertPromptAssignment records a new assignment. Prior assignments
	// are retained as history.
	InsertPromptAssignment(ctx context.Context, a *domain.PromptAssignment) error

	// GetProfile retrieves a user profile.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// UpsertProfile creates or updates a user profile.
	UpsertProfile(ctx context.Context, p *domain.Profile) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Package prompt attaches discussion prompts to conversations.
package prompt

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/store"
)

// Assigner picks prompts for conversations. A conversation keeps its prompt
// until an explicit refresh; assignment history is preserved.
type Assigner struct {
	repo store.Repository

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAssigner creates an Assigner seeded from the clock.
func NewAssigner(repo store.Repository) *Assigner {
	return NewAssignerWithSource(repo, rand.NewSource(time.Now().UnixNano()))
}

// NewAssignerWithSource creates an Assigner with a caller-supplied random
// source, used by tests for deterministic selection.
func NewAssignerWithSource(repo store.Repository, src rand.Source) *Assigner {
	return &Assigner{repo: repo, rng: rand.New(src)}
}

// Ensure returns the conversation's current prompt, assigning a random one
// first if none exists. Returns (nil, nil) when the reference set is empty;
// an absent prompt is display-optional, not an error.
func (a *Assigner) Ensure(ctx context.Context, conversationID string, filter domain.PromptFilter) (*domain.Prompt, error) {
	current, err := a.repo.CurrentPromptAssignment(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load current assignment: %w", err)
	}
	if current != nil {
		p, err := a.repo.GetPrompt(ctx, current.PromptID)
		if err != nil {
			return nil, fmt.Errorf("load assigned prompt: %w", err)
		}
		if p != nil {
			return p, nil
		}
		// Assignment references a prompt that no longer exists; fall
		// through and assign a fresh one.
	}

	return a.assign(ctx, conversationID, filter)
}

// Refresh always assigns a new random prompt, keeping prior assignments as
// history.
func (a *Assigner) Refresh(ctx context.Context, conversationID string, filter domain.PromptFilter) (*domain.Prompt, error) {
	return a.assign(ctx, conversationID, filter)
}

func (a *Assigner) assign(ctx context.Context, conversationID string, filter domain.PromptFilter) (*domain.Prompt, error) {
	prompts, err := a.repo.ListPrompts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, nil
	}

	a.mu.Lock()
	chosen := prompts[a.rng.Intn(len(prompts))]
	a.mu.Unlock()

	assignment := &domain.PromptAssignment{
		ConversationID: conversationID,
		PromptID:       chosen.ID,
		ShownAt:        time.Now(),
	}
	if err := a.repo.InsertPromptAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("record assignment: %w", err)
	}

	return chosen, nil
}

// Package match implements candidate search, atomic pairing, and the
// client-facing matchmaking session state machine.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/shared"
	"github.com/peermock/peermock/internal/store"
)

// ScoreFunc ranks a candidate for a requester. Higher scores are tried
// first; candidates with equal scores keep the store's stable total order.
// The default scores every candidate equally, which reduces selection to
// "first eligible".
type ScoreFunc func(requester, candidate *domain.AvailabilityEntry) float64

func constantScore(_, _ *domain.AvailabilityEntry) float64 { return 0 }

// Matcher claims one eligible online counterpart for a requester and opens
// a conversation. Safe for concurrent use by independent sessions; the
// store's conditional claim is the only mutual exclusion between them.
type Matcher struct {
	repo  store.Repository
	score ScoreFunc
	kind  domain.ConversationKind
}

// NewMatcher creates a Matcher with the default constant scoring function.
func NewMatcher(repo store.Repository) *Matcher {
	return NewMatcherWithScore(repo, constantScore)
}

// NewMatcherWithScore creates a Matcher with a custom scoring function.
func NewMatcherWithScore(repo store.Repository, score ScoreFunc) *Matcher {
	if score == nil {
		score = constantScore
	}
	return &Matcher{repo: repo, score: score, kind: domain.KindText}
}

// AttemptMatch tries to pair the requester with one online candidate.
// Returns (nil, nil) when no candidate is available or every claim was lost
// to a concurrent requester; both are normal outcomes, not errors. A non-nil
// error means the store failed and the attempt may be retried.
func (m *Matcher) AttemptMatch(ctx context.Context, requesterID string) (*domain.MatchResult, error) {
	requester, err := m.repo.GetAvailability(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester availability: %w", err)
	}
	if requester == nil || !requester.IsQueued() {
		// Requester left the queue between tick and attempt.
		return nil, nil
	}

	candidates, err := m.repo.ListOnlineCandidates(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Stable sort keeps the store's total order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return m.score(requester, candidates[i]) > m.score(requester, candidates[j])
	})

	for _, candidate := range candidates {
		conv, err := m.repo.PairUsers(ctx, requesterID, candidate.UserID, m.kind)
		if errors.Is(err, store.ErrClaimConflict) || shared.IsSQLiteConflictError(err) {
			// Another requester won this candidate, or their transaction
			// still holds the lock; try the next one.
			slog.Debug("Claim lost, trying next candidate",
				"requester_id", requesterID, "candidate_id", candidate.UserID)
			continue
		}
		if errors.Is(err, store.ErrRequesterGone) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pair users: %w", err)
		}

		slog.Info("Match created",
			"conversation_id", conv.ID,
			"requester_id", requesterID,
			"partner_id", candidate.UserID)

		return &domain.MatchResult{
			ConversationID:     conv.ID,
			PartnerID:          candidate.UserID,
			PartnerDisplayName: m.partnerName(ctx, candidate.UserID),
		}, nil
	}

	// Every claim lost this attempt; same outcome as no candidates.
	return nil, nil
}

func (m *Matcher) partnerName(ctx context.Context, userID string) string {
	profile, err := m.repo.GetProfile(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load partner profile", "user_id", userID, "error", err)
		return "Unknown"
	}
	if profile == nil || profile.DisplayName == "" {
		return "Unknown"
	}
	return profile.DisplayName
}

// Package domain contains core domain types for the PeerMock matchmaking service.
package domain

import (
	"time"
)

// AvailabilityStatus describes a user's matchmaking availability.
type AvailabilityStatus string

const (
	// StatusOnline marks a user as queued and eligible for matching.
	StatusOnline AvailabilityStatus = "online"
	// StatusAway marks a user as claimed into an active conversation.
	StatusAway AvailabilityStatus = "away"
	// StatusOffline marks a user as not participating in matchmaking.
	StatusOffline AvailabilityStatus = "offline"
)

// Valid reports whether the status is one of the known values.
func (s AvailabilityStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// AvailabilityEntry is a user's queue membership and matching preferences.
// A user has at most one entry; status transitions on this row are the only
// cross-session mutation in the system and must always be conditional.
type AvailabilityEntry struct {
	UserID            string             `json:"user_id"`
	Status            AvailabilityStatus `json:"status"`
	PreferredLevels   []string           `json:"preferred_experience_levels,omitempty"`
	PreferredTopics   []string           `json:"preferred_topics,omitempty"`
	PreferredDuration time.Duration      `json:"preferred_duration,omitempty"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsQueued reports whether the entry marks the user as waiting for a match.
func (e *AvailabilityEntry) IsQueued() bool {
	return e.Status == StatusOnline
}

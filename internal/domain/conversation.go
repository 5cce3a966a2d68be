package domain

import (
	"time"
)

// ConversationKind distinguishes text chats from video sessions.
type ConversationKind string

const (
	KindText  ConversationKind = "text"
	KindVideo ConversationKind = "video"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
)

// Conversation pairs two users for a timed practice session. The pair is
// immutable once created; only status and ended_at change afterwards.
type Conversation struct {
	ID        string             `json:"id"`
	User1ID   string             `json:"user1_id"`
	User2ID   string             `json:"user2_id"`
	Kind      ConversationKind   `json:"kind"`
	Status    ConversationStatus `json:"status"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// PartnerOf returns the other participant's user ID, or "" if userID is not
// a participant.
func (c *Conversation) PartnerOf(userID string) string {
	switch userID {
	case c.User1ID:
		return c.User2ID
	case c.User2ID:
		return c.User1ID
	}
	return ""
}

// MatchResult is returned by a successful match attempt.
type MatchResult struct {
	ConversationID     string `json:"conversation_id"`
	PartnerID          string `json:"partner_id"`
	PartnerDisplayName string `json:"partner_display_name"`
}

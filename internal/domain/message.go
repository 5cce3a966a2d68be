package domain

import (
	"time"
)

// Message is a single chat message in a conversation. Messages are
// append-only: never mutated, never deleted. Ordering is by CreatedAt with
// Seq as the monotonic tie-break when timestamps collide.
type Message struct {
	Seq            int64     `json:"seq"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Before reports whether m sorts ahead of other in conversation order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

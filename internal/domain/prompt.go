package domain

import (
	"time"
)

// Prompt is a reusable discussion topic attached to conversations to guide
// the exchange. Reference data, read-only at runtime.
type Prompt struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
	Text       string `json:"text"`
}

// PromptFilter narrows random prompt selection. Zero values match everything.
type PromptFilter struct {
	Category   string
	Difficulty string
}

// PromptAssignment records that a prompt was shown in a conversation.
// Assignments are history-preserving; the current one is the most recently
// shown.
type PromptAssignment struct {
	ConversationID string    `json:"conversation_id"`
	PromptID       string    `json:"prompt_id"`
	ShownAt        time.Time `json:"shown_at"`
}

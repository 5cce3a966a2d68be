package domain

import (
	"time"
)

// Profile is the slice of externally-owned user identity this service needs:
// a stable user ID and a display name for match results and chat headers.
type Profile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

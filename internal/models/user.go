package models

import "time"

// User mirrors an externally-authenticated identity. The id comes from the
// token verifier, never from this service, so no UUID hook applies.
type User struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Email      string    `gorm:"not null;index" json:"email"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

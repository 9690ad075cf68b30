package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeletionAuditEntry is one append-only audit record for a deletion request.
// Entries live in their own table keyed by request id; they are created once
// and never updated or deleted while the request exists.
type DeletionAuditEntry struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	RequestID string         `gorm:"type:uuid;not null;index" json:"request_id"`
	Action    string         `gorm:"not null" json:"action"`
	UserID    *string        `json:"user_id"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (e *DeletionAuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

package models

import "time"

// DeletionRequestStatus is the closed lifecycle enum for organization
// deletion requests. Transitions are one-directional except the explicit
// undo path (confirmed-deletion back to cancelled).
type DeletionRequestStatus string

const (
	DeletionPendingEmail DeletionRequestStatus = "pending-email"
	DeletionConfirmed    DeletionRequestStatus = "confirmed-deletion"
	DeletionCancelled    DeletionRequestStatus = "cancelled"
)

// DeletionRequest tracks one pass through the organization deletion state
// machine. Token digests are stored; raw tokens only travel in emailed links.
type DeletionRequest struct {
	BaseModel

	OrganizationID   string                `gorm:"type:uuid;not null;index" json:"organization_id"`
	OrganizationName string                `gorm:"not null" json:"organization_name"`
	Status           DeletionRequestStatus `gorm:"not null;index" json:"status"`

	ConfirmationTokenHash string    `gorm:"not null" json:"-"`
	TokenExpiresAt        time.Time `gorm:"not null" json:"token_expires_at"`

	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedVia        string     `json:"confirmed_via,omitempty"`
	ScheduledDeletionAt *time.Time `gorm:"index" json:"scheduled_deletion_at,omitempty"`

	UndoTokenHash string     `json:"-"`
	UndoExpiresAt *time.Time `json:"undo_expires_at,omitempty"`

	RequestedBy string `gorm:"not null" json:"requested_by"`

	AuditEntries []DeletionAuditEntry `gorm:"foreignKey:RequestID" json:"audit_entries,omitempty"`
}

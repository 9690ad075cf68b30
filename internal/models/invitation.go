package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/crowdlinkhq/crowdlink/internal/permissions"
)

// InvitationStatus is the closed lifecycle enum for invitations.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Invitation asks an email address to join an organization with a preset role
// and brand scope. Email is case-normalised at creation; the acceptance path
// still compares case-insensitively in case older rows predate that rule.
type Invitation struct {
	BaseModel

	Email          string           `gorm:"not null;index" json:"email"`
	OrganizationID string           `gorm:"type:uuid;not null;index" json:"organization_id"`
	Role           permissions.Role `gorm:"not null" json:"role"`
	Status         InvitationStatus `gorm:"not null;default:pending;index" json:"status"`

	BrandAccessAll bool           `gorm:"not null;default:false" json:"brand_access_all"`
	BrandIDs       datatypes.JSON `json:"brand_ids,omitempty"`

	TokenHash  string     `gorm:"not null" json:"-"`
	InvitedBy  string     `json:"invited_by"`
	InvitedAt  time.Time  `gorm:"not null" json:"invited_at"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

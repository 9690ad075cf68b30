package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/crowdlinkhq/crowdlink/internal/permissions"
)

// Member joins a user to an organization. At most one row may exist per
// (organization, user) pair; the unique index backs the acceptance
// transactor's idempotency check.
type Member struct {
	BaseModel

	OrganizationID string           `gorm:"type:uuid;not null;uniqueIndex:idx_members_org_user" json:"organization_id"`
	UserID         string           `gorm:"not null;uniqueIndex:idx_members_org_user" json:"user_id"`
	Role           permissions.Role `gorm:"not null" json:"role"`

	// PermissionOverrides, when non-empty, fully replaces the role-derived
	// capability set. Stored as a JSON array of capability names.
	PermissionOverrides datatypes.JSON `json:"permission_overrides,omitempty"`

	BrandAccessAll     bool           `gorm:"not null;default:false" json:"brand_access_all"`
	BrandIDs           datatypes.JSON `json:"brand_ids,omitempty"`
	AutoGrantNewBrands bool           `gorm:"not null;default:false" json:"auto_grant_new_brands"`

	InvitedBy *string    `json:"invited_by,omitempty"`
	InvitedAt *time.Time `json:"invited_at,omitempty"`
}

// Overrides decodes the stored capability override list. A malformed or empty
// payload yields nil, which defers to the role table.
func (m *Member) Overrides() []permissions.Capability {
	if len(m.PermissionOverrides) == 0 {
		return nil
	}
	var caps []permissions.Capability
	if err := json.Unmarshal(m.PermissionOverrides, &caps); err != nil {
		return nil
	}
	if len(caps) == 0 {
		return nil
	}
	return caps
}

// Subject returns the member's view for capability and escalation decisions.
func (m *Member) Subject() permissions.Subject {
	return permissions.Subject{
		UserID:    m.UserID,
		Role:      m.Role,
		Overrides: m.Overrides(),
	}
}

// BrandList decodes the scoped brand ids. Meaningless when BrandAccessAll is set.
func (m *Member) BrandList() []string {
	if len(m.BrandIDs) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(m.BrandIDs, &ids); err != nil {
		return nil
	}
	return ids
}

// SetBrandList encodes the scoped brand ids.
func (m *Member) SetBrandList(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	m.BrandIDs = datatypes.JSON(data)
	return nil
}

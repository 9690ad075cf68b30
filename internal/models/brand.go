package models

// Brand groups an organization's live-event content under one audience-facing
// identity. Member access is scoped per brand unless the member has the
// all-brands flag.
type Brand struct {
	BaseModel

	OrganizationID string `gorm:"type:uuid;not null;index" json:"organization_id"`
	Name           string `gorm:"not null" json:"name"`
}

package models

import "time"

// Organization is a tenant on the platform. A non-nil SoftDeletedAt means a
// confirmed deletion request is pending execution; the data is still present.
type Organization struct {
	BaseModel

	Name              string     `gorm:"not null" json:"name"`
	SoftDeletedAt     *time.Time `gorm:"index" json:"soft_deleted_at,omitempty"`
	DeletionRequestID *string    `gorm:"type:uuid" json:"deletion_request_id,omitempty"`

	Members []Member `gorm:"foreignKey:OrganizationID" json:"members,omitempty"`
	Brands  []Brand  `gorm:"foreignKey:OrganizationID" json:"brands,omitempty"`
}

package database

import (
	"gorm.io/gorm"

	"github.com/crowdlinkhq/crowdlink/internal/models"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Brand{},
		&models.Member{},
		&models.Invitation{},
		&models.DeletionRequest{},
		&models.DeletionAuditEntry{},
	)
}

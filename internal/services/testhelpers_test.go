package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crowdlinkhq/crowdlink/internal/database"
	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/pkg/crypto"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// fakeClock lets tests advance time between calls against the same service.
type fakeClock struct {
	current time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{current: start}
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func createTestOrg(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{Name: name}
	require.NoError(t, db.Create(org).Error)
	return org
}

func createTestMember(t *testing.T, db *gorm.DB, orgID, userID string, role permissions.Role) *models.Member {
	t.Helper()

	member := &models.Member{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		BrandAccessAll: true,
	}
	require.NoError(t, db.Create(member).Error)
	return member
}

func createTestInvitation(t *testing.T, db *gorm.DB, orgID, email string, role permissions.Role, invitedAt, expiresAt time.Time) *models.Invitation {
	t.Helper()

	invitation := &models.Invitation{
		Email:          email,
		OrganizationID: orgID,
		Role:           role,
		Status:         models.InvitationPending,
		TokenHash:      crypto.HashToken("test-token"),
		InvitedBy:      "inviter-1",
		InvitedAt:      invitedAt,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, db.Create(invitation).Error)
	return invitation
}

package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crowdlinkhq/crowdlink/internal/database"
	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/internal/services"
	"github.com/crowdlinkhq/crowdlink/pkg/crypto"
)

func TestRunOnceAppliesTimeDrivenTransitions(t *testing.T) {
	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	auditService, err := services.NewAuditService(db)
	require.NoError(t, err)
	invitationService, err := services.NewInvitationService(db, nil, services.WithInvitationClock(clock))
	require.NoError(t, err)
	deletionService, err := services.NewDeletionService(db, auditService, nil, services.WithDeletionClock(clock))
	require.NoError(t, err)

	sweeper, err := NewSweeper(invitationService, deletionService, WithInterval(time.Minute))
	require.NoError(t, err)

	org := &models.Organization{Name: "Acme Events"}
	require.NoError(t, db.Create(org).Error)
	require.NoError(t, db.Create(&models.Member{
		OrganizationID: org.ID,
		UserID:         "user-owner",
		Role:           permissions.RoleOwner,
	}).Error)

	request, err := deletionService.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)

	// Nothing is due yet; the sweep is a no-op.
	require.NoError(t, sweeper.RunOnce(context.Background()))
	var stored models.DeletionRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.DeletionPendingEmail, stored.Status)

	invitation := &models.Invitation{
		Email:          "old@example.com",
		OrganizationID: org.ID,
		Role:           permissions.RoleMember,
		Status:         models.InvitationPending,
		TokenHash:      crypto.HashToken("tok"),
		InvitedAt:      current.Add(-7 * 24 * time.Hour),
		ExpiresAt:      current.Add(time.Hour),
	}
	require.NoError(t, db.Create(invitation).Error)

	current = current.Add(25 * time.Hour)

	require.NoError(t, sweeper.RunOnce(context.Background()))

	var storedInvitation models.Invitation
	require.NoError(t, db.First(&storedInvitation, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationExpired, storedInvitation.Status)

	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.DeletionCancelled, stored.Status)
}

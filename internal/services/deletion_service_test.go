package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/pkg/crypto"
)

func newDeletionFixture(t *testing.T) (*gorm.DB, *DeletionService, *fakeClock) {
	t.Helper()

	db := openTestDB(t)
	clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewDeletionService(db, audit, nil, WithDeletionClock(clock.Now))
	require.NoError(t, err)

	return db, svc, clock
}

func setConfirmationToken(t *testing.T, db *gorm.DB, requestID, token string) {
	t.Helper()
	require.NoError(t, db.Model(&models.DeletionRequest{}).
		Where("id = ?", requestID).
		Update("confirmation_token_hash", crypto.HashToken(token)).Error)
}

func setUndoToken(t *testing.T, db *gorm.DB, requestID, token string) {
	t.Helper()
	require.NoError(t, db.Model(&models.DeletionRequest{}).
		Where("id = ?", requestID).
		Update("undo_token_hash", crypto.HashToken(token)).Error)
}

func auditActions(t *testing.T, db *gorm.DB, requestID string) []string {
	t.Helper()

	var entries []models.DeletionAuditEntry
	require.NoError(t, db.Where("request_id = ?", requestID).
		Order("created_at ASC").Find(&entries).Error)

	actions := make([]string, len(entries))
	for i, entry := range entries {
		actions[i] = entry.Action
	}
	return actions
}

func TestInitiateOpensRequest(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	require.Equal(t, models.DeletionPendingEmail, request.Status)
	require.Equal(t, "Acme Events", request.OrganizationName)
	require.WithinDuration(t, clock.Now().Add(24*time.Hour), request.TokenExpiresAt, time.Second)

	var stored models.Organization
	require.NoError(t, db.First(&stored, "id = ?", org.ID).Error)
	require.NotNil(t, stored.DeletionRequestID)
	require.Equal(t, request.ID, *stored.DeletionRequestID)
	require.Nil(t, stored.SoftDeletedAt)

	require.Equal(t, []string{"initiated"}, auditActions(t, db, request.ID))
}

func TestInitiateRejectsNameMismatch(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	_, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "acme events")
	require.ErrorIs(t, err, ErrConfirmationNameMismatch)
}

func TestInitiateRequiresDeleteCapability(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-admin", permissions.RoleAdmin)

	_, err := svc.Initiate(context.Background(), org.ID, "user-admin", "admin@example.com", "Acme Events")
	require.ErrorIs(t, err, ErrMissingCapability)

	_, err = svc.Initiate(context.Background(), org.ID, "user-stranger", "x@example.com", "Acme Events")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestInitiateRejectsSecondRequest(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	_, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.ErrorIs(t, err, ErrDeletionAlreadyPending)
}

func TestConfirmSchedulesDeletion(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	clock.Advance(2 * time.Hour)

	confirmed, err := svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)
	require.Equal(t, models.DeletionConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ScheduledDeletionAt)
	require.WithinDuration(t, clock.Now().Add(28*24*time.Hour), *confirmed.ScheduledDeletionAt, time.Second)
	require.NotNil(t, confirmed.UndoExpiresAt)
	require.WithinDuration(t, clock.Now().Add(24*time.Hour), *confirmed.UndoExpiresAt, time.Second)
	require.NotEmpty(t, confirmed.UndoTokenHash)

	var stored models.Organization
	require.NoError(t, db.First(&stored, "id = ?", org.ID).Error)
	require.NotNil(t, stored.SoftDeletedAt)

	require.Equal(t, []string{"initiated", "confirmed"}, auditActions(t, db, request.ID))
}

func TestConfirmIsSingleShot(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	var wrongStatus *WrongStatusError
	require.ErrorAs(t, err, &wrongStatus)
	require.Equal(t, models.DeletionConfirmed, wrongStatus.Status)
}

func TestConfirmExpiredTokenCancelsRequest(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	clock.Advance(25 * time.Hour)

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.ErrorIs(t, err, ErrConfirmationExpired)

	var stored models.DeletionRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.DeletionCancelled, stored.Status)

	var storedOrg models.Organization
	require.NoError(t, db.First(&storedOrg, "id = ?", org.ID).Error)
	require.Nil(t, storedOrg.DeletionRequestID)
	require.Nil(t, storedOrg.SoftDeletedAt)

	require.Equal(t, []string{"initiated", "confirmation-expired"}, auditActions(t, db, request.ID))
}

func TestConfirmRejectsWrongToken(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "not-the-token")
	require.ErrorIs(t, err, ErrTokenMismatch)
}

func TestUndoCancelsScheduledDeletion(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)
	// Second owner with no overrides: holds the delete capability purely
	// through the role table.
	createTestMember(t, db, org.ID, "user-cofounder", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)
	setUndoToken(t, db, request.ID, "undo-tok")

	clock.Advance(23 * time.Hour)

	undone, err := svc.Undo(context.Background(), request.ID, "undo-tok", "user-cofounder")
	require.NoError(t, err)
	require.Equal(t, models.DeletionCancelled, undone.Status)

	var storedOrg models.Organization
	require.NoError(t, db.First(&storedOrg, "id = ?", org.ID).Error)
	require.Nil(t, storedOrg.SoftDeletedAt)
	require.Nil(t, storedOrg.DeletionRequestID)

	require.Equal(t, []string{"initiated", "confirmed", "undone"}, auditActions(t, db, request.ID))
}

func TestUndoRejectsExpiredWindow(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)
	setUndoToken(t, db, request.ID, "undo-tok")

	clock.Advance(25 * time.Hour)

	_, err = svc.Undo(context.Background(), request.ID, "undo-tok", "user-owner")
	require.ErrorIs(t, err, ErrUndoExpired)

	var storedOrg models.Organization
	require.NoError(t, db.First(&storedOrg, "id = ?", org.ID).Error)
	require.NotNil(t, storedOrg.SoftDeletedAt)
}

func TestUndoRequiresDeleteCapability(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)
	createTestMember(t, db, org.ID, "user-admin", permissions.RoleAdmin)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)
	setUndoToken(t, db, request.ID, "undo-tok")

	_, err = svc.Undo(context.Background(), request.ID, "undo-tok", "user-admin")
	require.ErrorIs(t, err, ErrMissingCapability)

	_, err = svc.Undo(context.Background(), request.ID, "undo-tok", "user-stranger")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestUndoIsSingleShot(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)
	setUndoToken(t, db, request.ID, "undo-tok")

	_, err = svc.Undo(context.Background(), request.ID, "undo-tok", "user-owner")
	require.NoError(t, err)

	_, err = svc.Undo(context.Background(), request.ID, "undo-tok", "user-owner")
	var wrongStatus *WrongStatusError
	require.ErrorAs(t, err, &wrongStatus)
	require.Equal(t, models.DeletionCancelled, wrongStatus.Status)
}

func TestStatusReturnsRequestWithAuditTrail(t *testing.T) {
	db, svc, _ := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	_, err := svc.Status(context.Background(), org.ID)
	require.ErrorIs(t, err, ErrDeletionRequestNotFound)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), org.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, status.ID)
	require.Len(t, status.AuditEntries, 1)
	require.Equal(t, "initiated", status.AuditEntries[0].Action)
}

func TestExpireStaleSweep(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	cancelled, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cancelled)

	var stored models.DeletionRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.DeletionCancelled, stored.Status)

	var storedOrg models.Organization
	require.NoError(t, db.First(&storedOrg, "id = ?", org.ID).Error)
	require.Nil(t, storedOrg.DeletionRequestID)
}

func TestExecuteDueHardDeletes(t *testing.T) {
	db, svc, clock := newDeletionFixture(t)

	org := createTestOrg(t, db, "Acme Events")
	createTestMember(t, db, org.ID, "user-owner", permissions.RoleOwner)
	require.NoError(t, db.Create(&models.Brand{OrganizationID: org.ID, Name: "Main Stage"}).Error)

	request, err := svc.Initiate(context.Background(), org.ID, "user-owner", "owner@example.com", "Acme Events")
	require.NoError(t, err)
	setConfirmationToken(t, db, request.ID, "confirm-tok")

	_, err = svc.Confirm(context.Background(), request.ID, "confirm-tok")
	require.NoError(t, err)

	clock.Advance(29 * 24 * time.Hour)

	executed, err := svc.ExecuteDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, executed)

	var orgCount, memberCount, brandCount int64
	require.NoError(t, db.Model(&models.Organization{}).Where("id = ?", org.ID).Count(&orgCount).Error)
	require.NoError(t, db.Model(&models.Member{}).Where("organization_id = ?", org.ID).Count(&memberCount).Error)
	require.NoError(t, db.Model(&models.Brand{}).Where("organization_id = ?", org.ID).Count(&brandCount).Error)
	require.Zero(t, orgCount)
	require.Zero(t, memberCount)
	require.Zero(t, brandCount)

	require.Equal(t, []string{"initiated", "confirmed", "executed"}, auditActions(t, db, request.ID))
}

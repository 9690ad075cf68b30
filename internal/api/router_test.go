package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crowdlinkhq/crowdlink/internal/auth"
	"github.com/crowdlinkhq/crowdlink/internal/database"
	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/services"
	"github.com/crowdlinkhq/crowdlink/pkg/crypto"
)

type testEnv struct {
	db     *gorm.DB
	router http.Handler
	jwt    *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "crowdlink-test"})
	require.NoError(t, err)

	auditService, err := services.NewAuditService(db)
	require.NoError(t, err)
	invitationService, err := services.NewInvitationService(db, nil)
	require.NoError(t, err)
	deletionService, err := services.NewDeletionService(db, auditService, nil)
	require.NoError(t, err)
	memberService, err := services.NewMemberService(db, nil)
	require.NoError(t, err)
	organizationService, err := services.NewOrganizationService(db)
	require.NoError(t, err)

	router, err := NewRouter(jwtService, Services{
		Invitations:   invitationService,
		Members:       memberService,
		Organizations: organizationService,
		Deletions:     deletionService,
	})
	require.NoError(t, err)

	return &testEnv{db: db, router: router, jwt: jwtService}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func (e *testEnv) token(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(userID, email)
	require.NoError(t, err)
	return token
}

func decodeData(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, recorder.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/invitations/accept", "",
		map[string]any{"invitation_ids": []string{"x"}})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = env.request(t, http.MethodPost, "/api/invitations/accept", "not-a-jwt",
		map[string]any{"invitation_ids": []string{"x"}})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	founderToken := env.token(t, "user-founder", "founder@example.com")

	var org models.Organization
	recorder := env.request(t, http.MethodPost, "/api/orgs", founderToken,
		map[string]any{"name": "Acme Events"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	decodeData(t, recorder, &org)

	recorder = env.request(t, http.MethodPost, fmt.Sprintf("/api/orgs/%s/invitations", org.ID), founderToken,
		map[string]any{"email": "alice@example.com", "role": "admin"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var invitation models.Invitation
	decodeData(t, recorder, &invitation)

	aliceToken := env.token(t, "user-alice", "alice@example.com")
	recorder = env.request(t, http.MethodPost, "/api/invitations/accept", aliceToken,
		map[string]any{"invitation_ids": []string{invitation.ID}})
	require.Equal(t, http.StatusOK, recorder.Code)
	var result services.AcceptResult
	decodeData(t, recorder, &result)
	require.Equal(t, []string{invitation.ID}, result.Accepted)

	recorder = env.request(t, http.MethodGet, fmt.Sprintf("/api/orgs/%s/members", org.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var members []models.Member
	decodeData(t, recorder, &members)
	require.Len(t, members, 2)
}

func TestDeletionFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	founderToken := env.token(t, "user-founder", "founder@example.com")

	var org models.Organization
	recorder := env.request(t, http.MethodPost, "/api/orgs", founderToken,
		map[string]any{"name": "Acme Events"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	decodeData(t, recorder, &org)

	// Wrong confirmation name is rejected up front.
	recorder = env.request(t, http.MethodPost, fmt.Sprintf("/api/orgs/%s/deletion", org.ID), founderToken,
		map[string]any{"confirmation_name": "acme events"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = env.request(t, http.MethodPost, fmt.Sprintf("/api/orgs/%s/deletion", org.ID), founderToken,
		map[string]any{"confirmation_name": "Acme Events"})
	require.Equal(t, http.StatusAccepted, recorder.Code)
	var request models.DeletionRequest
	decodeData(t, recorder, &request)

	// The raw token only travels by email; plant a known one for the test.
	require.NoError(t, env.db.Model(&models.DeletionRequest{}).
		Where("id = ?", request.ID).
		Update("confirmation_token_hash", crypto.HashToken("confirm-tok")).Error)

	recorder = env.request(t, http.MethodPost, "/api/deletion/confirm", "",
		map[string]any{"request_id": request.ID, "token": "wrong"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = env.request(t, http.MethodPost, "/api/deletion/confirm", "",
		map[string]any{"request_id": request.ID, "token": "confirm-tok"})
	require.Equal(t, http.StatusOK, recorder.Code)

	// Replaying the confirmation link names the current status instead of
	// re-arming the clock.
	recorder = env.request(t, http.MethodPost, "/api/deletion/confirm", "",
		map[string]any{"request_id": request.ID, "token": "confirm-tok"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = env.request(t, http.MethodGet, fmt.Sprintf("/api/orgs/%s/deletion", org.ID), founderToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var status models.DeletionRequest
	decodeData(t, recorder, &status)
	require.Equal(t, models.DeletionConfirmed, status.Status)

	require.NoError(t, env.db.Model(&models.DeletionRequest{}).
		Where("id = ?", request.ID).
		Update("undo_token_hash", crypto.HashToken("undo-tok")).Error)

	recorder = env.request(t, http.MethodPost, "/api/deletion/undo", founderToken,
		map[string]any{"request_id": request.ID, "token": "undo-tok"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var storedOrg models.Organization
	require.NoError(t, env.db.First(&storedOrg, "id = ?", org.ID).Error)
	require.Nil(t, storedOrg.SoftDeletedAt)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/internal/services"
	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
)

// InvitationHandler exposes invitation creation and batch acceptance.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations *services.InvitationService) (*InvitationHandler, error) {
	if invitations == nil {
		return nil, errors.New("invitation handler: service is required")
	}
	return &InvitationHandler{invitations: invitations}, nil
}

type createInvitationRequest struct {
	Email          string   `json:"email" validate:"required,email"`
	Role           string   `json:"role" validate:"required"`
	BrandAccessAll bool     `json:"brand_access_all"`
	BrandIDs       []string `json:"brand_ids"`
}

// Create handles POST /api/orgs/:id/invitations.
func (h *InvitationHandler) Create(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[createInvitationRequest](c)
	if !ok {
		return
	}

	invitation, _, err := h.invitations.Create(c.Request.Context(), services.CreateInvitationInput{
		Email:          payload.Email,
		OrganizationID: orgID,
		Role:           permissions.Role(payload.Role),
		BrandAccessAll: payload.BrandAccessAll,
		BrandIDs:       payload.BrandIDs,
		InvitedBy:      userID,
	})
	if err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusCreated, invitation)
}

type acceptInvitationsRequest struct {
	InvitationIDs []string `json:"invitation_ids" validate:"required,min=1,dive,required"`
}

// Accept handles POST /api/invitations/accept. The identity comes from the
// verified token, never from the body, and the result always partitions the
// submitted ids into accepted, skipped and errored lists.
func (h *InvitationHandler) Accept(c *gin.Context) {
	userID, email, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[acceptInvitationsRequest](c)
	if !ok {
		return
	}

	result, err := h.invitations.Accept(c.Request.Context(), userID, email, payload.InvitationIDs)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, "failed to process invitations"))
		return
	}

	response.Success(c, http.StatusOK, result)
}

func mapInvitationError(err error) error {
	switch {
	case errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrMissingCapability):
		return appErrors.ErrForbidden
	case errors.Is(err, services.ErrInvalidRole):
		return appErrors.NewBadRequest("role must be one of owner, admin, member")
	case errors.Is(err, services.ErrInvitationAlreadyPending):
		return appErrors.New("CONFLICT", "An invitation for this email is already pending", http.StatusConflict)
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

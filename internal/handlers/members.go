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

// MemberHandler exposes membership listing and management.
type MemberHandler struct {
	members *services.MemberService
}

// NewMemberHandler constructs a MemberHandler.
func NewMemberHandler(members *services.MemberService) (*MemberHandler, error) {
	if members == nil {
		return nil, errors.New("member handler: service is required")
	}
	return &MemberHandler{members: members}, nil
}

// List handles GET /api/orgs/:id/members.
func (h *MemberHandler) List(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	members, err := h.members.List(c.Request.Context(), orgID, userID)
	if err != nil {
		response.Error(c, mapMemberError(err))
		return
	}
	response.Success(c, http.StatusOK, members)
}

// Get handles GET /api/orgs/:id/members/:userID.
func (h *MemberHandler) Get(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathParam(c, "userID")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	member, err := h.members.Get(c.Request.Context(), orgID, targetID, userID)
	if err != nil {
		response.Error(c, mapMemberError(err))
		return
	}
	response.Success(c, http.StatusOK, member)
}

type updateMemberRequest struct {
	Role               *string  `json:"role" validate:"omitempty,oneof=owner admin member"`
	BrandAccessAll     *bool    `json:"brand_access_all"`
	BrandIDs           []string `json:"brand_ids"`
	AutoGrantNewBrands *bool    `json:"auto_grant_new_brands"`
}

// Update handles PATCH /api/orgs/:id/members/:userID.
func (h *MemberHandler) Update(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathParam(c, "userID")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[updateMemberRequest](c)
	if !ok {
		return
	}

	input := services.UpdateMemberInput{
		BrandAccessAll:     payload.BrandAccessAll,
		BrandIDs:           payload.BrandIDs,
		AutoGrantNewBrands: payload.AutoGrantNewBrands,
	}
	if payload.Role != nil {
		role := permissions.Role(*payload.Role)
		input.Role = &role
	}

	member, err := h.members.Update(c.Request.Context(), orgID, targetID, userID, input)
	if err != nil {
		response.Error(c, mapMemberError(err))
		return
	}
	response.Success(c, http.StatusOK, member)
}

// Remove handles DELETE /api/orgs/:id/members/:userID.
func (h *MemberHandler) Remove(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathParam(c, "userID")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.members.Remove(c.Request.Context(), orgID, targetID, userID); err != nil {
		response.Error(c, mapMemberError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": targetID})
}

func mapMemberError(err error) error {
	switch {
	case errors.Is(err, services.ErrMemberNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrMissingCapability):
		return appErrors.ErrForbidden
	case errors.Is(err, services.ErrSelfRoleChange):
		return appErrors.ErrForbidden.WithMessage("You cannot change your own role")
	case errors.Is(err, services.ErrEscalationDenied):
		return appErrors.ErrForbidden.WithMessage("You cannot modify a member at or above your role")
	case errors.Is(err, services.ErrInvalidRole):
		return appErrors.NewBadRequest("role must be one of owner, admin, member")
	case errors.Is(err, services.ErrLastOwnerRemoval):
		return appErrors.NewBadRequest("An organization must keep at least one owner")
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowdlinkhq/crowdlink/internal/services"
	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
)

// DeletionHandler exposes the organization deletion lifecycle.
type DeletionHandler struct {
	deletions *services.DeletionService
}

// NewDeletionHandler constructs a DeletionHandler.
func NewDeletionHandler(deletions *services.DeletionService) (*DeletionHandler, error) {
	if deletions == nil {
		return nil, errors.New("deletion handler: service is required")
	}
	return &DeletionHandler{deletions: deletions}, nil
}

type initiateDeletionRequest struct {
	ConfirmationName string `json:"confirmation_name" validate:"required"`
}

// Initiate handles POST /api/orgs/:id/deletion.
func (h *DeletionHandler) Initiate(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, email, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[initiateDeletionRequest](c)
	if !ok {
		return
	}

	request, err := h.deletions.Initiate(c.Request.Context(), orgID, userID, email, payload.ConfirmationName)
	if err != nil {
		response.Error(c, mapDeletionError(err))
		return
	}
	response.Success(c, http.StatusAccepted, request)
}

// Status handles GET /api/orgs/:id/deletion.
func (h *DeletionHandler) Status(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	if _, _, ok := currentUser(c); !ok {
		return
	}

	request, err := h.deletions.Status(c.Request.Context(), orgID)
	if err != nil {
		response.Error(c, mapDeletionError(err))
		return
	}
	response.Success(c, http.StatusOK, request)
}

type deletionTokenRequest struct {
	RequestID string `json:"request_id" validate:"required"`
	Token     string `json:"token" validate:"required"`
}

// Confirm handles POST /api/deletion/confirm. The route is public: possession
// of the emailed token is the credential.
func (h *DeletionHandler) Confirm(c *gin.Context) {
	payload, ok := bindAndValidate[deletionTokenRequest](c)
	if !ok {
		return
	}

	request, err := h.deletions.Confirm(c.Request.Context(), payload.RequestID, payload.Token)
	if err != nil {
		response.Error(c, mapDeletionError(err))
		return
	}
	response.Success(c, http.StatusOK, request)
}

// Undo handles POST /api/deletion/undo. Requires both the emailed token and
// an authenticated member holding the delete capability.
func (h *DeletionHandler) Undo(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[deletionTokenRequest](c)
	if !ok {
		return
	}

	request, err := h.deletions.Undo(c.Request.Context(), payload.RequestID, payload.Token, userID)
	if err != nil {
		response.Error(c, mapDeletionError(err))
		return
	}
	response.Success(c, http.StatusOK, request)
}

func mapDeletionError(err error) error {
	var wrongStatus *services.WrongStatusError
	switch {
	case errors.Is(err, services.ErrOrganizationNotFound),
		errors.Is(err, services.ErrDeletionRequestNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrDeletionAlreadyPending):
		return appErrors.NewBadRequest("A deletion request is already pending")
	case errors.Is(err, services.ErrConfirmationNameMismatch):
		return appErrors.NewBadRequest("The organization name does not match")
	case errors.Is(err, services.ErrTokenMismatch):
		return appErrors.NewBadRequest("Invalid token")
	case errors.As(err, &wrongStatus):
		return appErrors.NewBadRequest("The deletion request is already " + string(wrongStatus.Status))
	case errors.Is(err, services.ErrConfirmationExpired):
		return appErrors.ErrGone.WithMessage("The confirmation link has expired; the deletion request was cancelled")
	case errors.Is(err, services.ErrUndoExpired):
		return appErrors.ErrGone.WithMessage("The undo window has closed")
	case errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrMissingCapability):
		return appErrors.ErrForbidden
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

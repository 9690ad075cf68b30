package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowdlinkhq/crowdlink/internal/services"
	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
)

// OrganizationHandler exposes organization and brand management.
type OrganizationHandler struct {
	organizations *services.OrganizationService
}

// NewOrganizationHandler constructs an OrganizationHandler.
func NewOrganizationHandler(organizations *services.OrganizationService) (*OrganizationHandler, error) {
	if organizations == nil {
		return nil, errors.New("organization handler: service is required")
	}
	return &OrganizationHandler{organizations: organizations}, nil
}

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// Create handles POST /api/orgs.
func (h *OrganizationHandler) Create(c *gin.Context) {
	userID, email, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[createOrganizationRequest](c)
	if !ok {
		return
	}

	org, err := h.organizations.Create(c.Request.Context(), payload.Name, userID, email)
	if err != nil {
		response.Error(c, mapOrganizationError(err))
		return
	}
	response.Success(c, http.StatusCreated, org)
}

// Get handles GET /api/orgs/:id.
func (h *OrganizationHandler) Get(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	org, err := h.organizations.Get(c.Request.Context(), orgID, userID)
	if err != nil {
		response.Error(c, mapOrganizationError(err))
		return
	}
	response.Success(c, http.StatusOK, org)
}

type createBrandRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// CreateBrand handles POST /api/orgs/:id/brands.
func (h *OrganizationHandler) CreateBrand(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	payload, ok := bindAndValidate[createBrandRequest](c)
	if !ok {
		return
	}

	brand, err := h.organizations.CreateBrand(c.Request.Context(), orgID, userID, payload.Name)
	if err != nil {
		response.Error(c, mapOrganizationError(err))
		return
	}
	response.Success(c, http.StatusCreated, brand)
}

// ListBrands handles GET /api/orgs/:id/brands.
func (h *OrganizationHandler) ListBrands(c *gin.Context) {
	orgID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	brands, err := h.organizations.ListBrands(c.Request.Context(), orgID, userID)
	if err != nil {
		response.Error(c, mapOrganizationError(err))
		return
	}
	response.Success(c, http.StatusOK, brands)
}

func mapOrganizationError(err error) error {
	switch {
	case errors.Is(err, services.ErrOrganizationNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrMissingCapability):
		return appErrors.ErrForbidden
	case errors.Is(err, services.ErrEmptyName):
		return appErrors.NewBadRequest("name must not be empty")
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowdlinkhq/crowdlink/internal/auth"
	"github.com/crowdlinkhq/crowdlink/internal/handlers"
	"github.com/crowdlinkhq/crowdlink/internal/middleware"
	"github.com/crowdlinkhq/crowdlink/internal/services"
)

// Services bundles the service layer the router wires handlers onto.
type Services struct {
	Invitations   *services.InvitationService
	Members       *services.MemberService
	Organizations *services.OrganizationService
	Deletions     *services.DeletionService
}

// NewRouter assembles the gin engine with middleware and all routes.
// Everything under /api requires a bearer token except the deletion
// confirmation endpoint, where the emailed token is the credential.
func NewRouter(jwtService *auth.JWTService, svcs Services) (*gin.Engine, error) {
	if jwtService == nil {
		return nil, errors.New("router: jwt service is required")
	}

	invitationHandler, err := handlers.NewInvitationHandler(svcs.Invitations)
	if err != nil {
		return nil, err
	}
	memberHandler, err := handlers.NewMemberHandler(svcs.Members)
	if err != nil {
		return nil, err
	}
	organizationHandler, err := handlers.NewOrganizationHandler(svcs.Organizations)
	if err != nil {
		return nil, err
	}
	deletionHandler, err := handlers.NewDeletionHandler(svcs.Deletions)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.Metrics(),
	)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api")
	public.POST("/deletion/confirm", deletionHandler.Confirm)

	authed := router.Group("/api")
	authed.Use(middleware.RequireAuth(jwtService))
	{
		authed.POST("/invitations/accept", invitationHandler.Accept)
		authed.POST("/deletion/undo", deletionHandler.Undo)

		authed.POST("/orgs", organizationHandler.Create)
		authed.GET("/orgs/:id", organizationHandler.Get)

		authed.GET("/orgs/:id/members", memberHandler.List)
		authed.GET("/orgs/:id/members/:userID", memberHandler.Get)
		authed.PATCH("/orgs/:id/members/:userID", memberHandler.Update)
		authed.DELETE("/orgs/:id/members/:userID", memberHandler.Remove)

		authed.POST("/orgs/:id/invitations", invitationHandler.Create)

		authed.POST("/orgs/:id/brands", organizationHandler.CreateBrand)
		authed.GET("/orgs/:id/brands", organizationHandler.ListBrands)

		authed.POST("/orgs/:id/deletion", deletionHandler.Initiate)
		authed.GET("/orgs/:id/deletion", deletionHandler.Status)
	}

	return router, nil
}

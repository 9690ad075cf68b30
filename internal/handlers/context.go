package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/crowdlinkhq/crowdlink/internal/middleware"
	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
)

// currentUser pulls the authenticated identity set by the auth middleware.
// Writes a 401 and returns false when the request somehow reached a protected
// handler without it.
func currentUser(c *gin.Context) (userID, email string, ok bool) {
	userID, idOK := middleware.UserID(c)
	email, emailOK := middleware.UserEmail(c)
	if !idOK || !emailOK {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", "", false
	}
	return userID, email, true
}

// pathParam fetches a required path parameter, writing a 400 when absent.
func pathParam(c *gin.Context, name string) (string, bool) {
	value := c.Param(name)
	if value == "" {
		response.Error(c, appErrors.NewBadRequest(name+" is required"))
		return "", false
	}
	return value, true
}

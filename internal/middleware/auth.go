package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crowdlinkhq/crowdlink/internal/auth"
	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
)

// Context keys set by RequireAuth for downstream handlers.
const (
	CtxUserIDKey    = "auth.user_id"
	CtxUserEmailKey = "auth.user_email"
	CtxClaimsKey    = "auth.claims"
)

// RequireAuth validates the bearer token and stores the verified identity on
// the request context. Requests without a valid token are rejected.
func RequireAuth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateAccessToken(parts[1])
		if err != nil {
			response.Error(c, appErrors.ErrUnauthorized.WithInternal(err))
			c.Abort()
			return
		}

		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxUserEmailKey, claims.Email)
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by RequireAuth.
func UserID(c *gin.Context) (string, bool) {
	value, ok := c.Get(CtxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// UserEmail returns the authenticated email stored by RequireAuth.
func UserEmail(c *gin.Context) (string, bool) {
	value, ok := c.Get(CtxUserEmailKey)
	if !ok {
		return "", false
	}
	email, ok := value.(string)
	return email, ok && email != ""
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PrincipalKey is the gin context key holding the authenticated uuid.UUID.
const PrincipalKey = "user_id"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// JWTAuthMiddleware reads the bearer token from the Authorization header, or
// from the access_token query parameter for browser EventSource and websocket
// clients that cannot set headers.
func JWTAuthMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			unauthorized(c)
			return
		}

		principal, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// Principal returns the principal set by JWTAuthMiddleware.
func Principal(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "UNAUTHORIZED", "message": "Invalid or missing authorization token"},
	})
}

package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
	"github.com/feedhub/feedhub-api/pkg/response"
)

// Cookie names shared by the auth handler and this gateway.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// ContextUserKey is the gin context key storing the resolved user.
const ContextUserKey = "currentUser"

// ContextClaimsKey is the gin context key storing the verified claims.
const ContextClaimsKey = "accessClaims"

// identityResolver is the surface of AuthService the gateway needs.
type identityResolver interface {
	ValidateAccessToken(tokenString string) (*models.AccessClaims, error)
	ResolveIdentity(ctx context.Context, claims *models.AccessClaims) (*models.User, error)
}

// Auth protects routes by requiring a valid access token, taken from the
// access cookie or a bearer header. The identity is resolved against the live
// user record so soft-deleted accounts and stale privilege claims are caught
// even while the token itself is still valid.
func Auth(authService identityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractAccessToken(c)
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrTokenMissing, "access token missing"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateAccessToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		user, err := authService.ResolveIdentity(c.Request.Context(), claims)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireAdmin allows only admin accounts past. Must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := UserFromContext(c)
		if user == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !user.IsAdmin {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserFromContext returns the resolved user stored by Auth, or nil.
func UserFromContext(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

func extractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

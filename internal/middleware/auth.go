package middleware

import (
	"net/http"
	"strings"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Principal is the caller identified by a verified bearer token. Admins act
// on other users' wallets and entitlements; everyone else only on their own.
type Principal struct {
	UserID  models.UserID
	Email   string
	IsAdmin bool
}

// SetPrincipal stores the authenticated caller on the request
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

// CurrentPrincipal returns the caller stored by AuthMiddleware
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	if !ok || p.UserID.IsZero() {
		return Principal{}, false
	}
	return p, true
}

// CurrentUserID returns the authenticated user's id
func CurrentUserID(c *gin.Context) (models.UserID, bool) {
	p, ok := CurrentPrincipal(c)
	return p.UserID, ok
}

// AuthMiddleware verifies the bearer token and records the caller
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil || claims.UserID.IsZero() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		SetPrincipal(c, Principal{
			UserID:  claims.UserID,
			Email:   claims.Email,
			IsAdmin: claims.IsAdmin,
		})
		c.Next()
	}
}

// AdminMiddleware lets through only callers whose token carries is_admin
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			return
		}
		if !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

const (
	principalKey = "principal"
	tokenKey     = "token"

	// TokenCookie carries the principal token for browser dashboards.
	TokenCookie = "token"
)

// AuthMiddleware requires a valid principal token, from the Authorization
// header or the token cookie.
func AuthMiddleware(issuer *utils.TokenIssuer, blacklist *utils.TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, issuer, blacklist) {
			utils.RespondAppError(c, utils.Unauthorized("authentication required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is present and lets
// anonymous callers through.
func OptionalAuth(issuer *utils.TokenIssuer, blacklist *utils.TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, issuer, blacklist)
		c.Next()
	}
}

func authenticate(c *gin.Context, issuer *utils.TokenIssuer, blacklist *utils.TokenBlacklist) bool {
	tokenString := tokenFromRequest(c)
	if tokenString == "" || blacklist.Contains(tokenString) {
		return false
	}
	claims, err := issuer.ParseToken(tokenString)
	if err != nil {
		return false
	}

	c.Set(principalKey, services.Principal{
		UserID:       claims.UserID,
		Username:     claims.Username,
		Role:         claims.Role,
		RestaurantID: claims.RestaurantID,
	})
	c.Set(tokenKey, tokenString)
	return true
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil {
		return cookie
	}
	return ""
}

// GetPrincipal returns the principal attached by AuthMiddleware or OptionalAuth.
func GetPrincipal(c *gin.Context) (services.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return services.Principal{}, false
	}
	p, ok := v.(services.Principal)
	return p, ok
}

// GetToken returns the raw token the principal was read from.
func GetToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}

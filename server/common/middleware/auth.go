package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "chatdesk/server/common/auth"
	"chatdesk/server/common/transport/httpresp"
)

const ClaimsKey = "auth_claims"

type tokenAuth interface {
	ParseToken(token string) (*commonauth.Claims, error)
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		claims, err := auth.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_access_token", token)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// BearerToken reads the Authorization header, then the access_token query
// parameter browsers use for websocket upgrades.
func BearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		return "", false
	}
	return token, true
}

// Claims returns the claims AuthRequired stored on the context.
func Claims(c *gin.Context) (*commonauth.Claims, bool) {
	raw, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := raw.(*commonauth.Claims)
	return claims, ok && claims != nil
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[strings.TrimSpace(role)] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrInsufficientRole))
			return
		}
		c.Next()
	}
}

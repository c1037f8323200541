package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/service"
)

const (
	ctxMerchantID = "merchantID"
	ctxSessionID  = "sessionID"
	ctxAPIKey     = "apiKey"
)

// AuthMiddleware validates bearer access tokens and checks that the
// underlying session is still alive.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing or invalid authorization header"})
			return
		}

		session, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, core.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
			return
		}

		c.Set(ctxMerchantID, session.MerchantID)
		c.Set(ctxSessionID, session.ID)
		c.Next()
	}
}

// APIKeyMiddleware authenticates programmatic requests with a raw API
// key and requires the given permission tag. Revoked and expired keys
// answer 401, same as unknown ones.
func APIKeyMiddleware(keyService *service.APIKeyService, need core.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing or invalid authorization header"})
			return
		}

		key, err := keyService.Authenticate(c.Request.Context(), raw, c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid API key"})
			return
		}
		if !key.HasPermission(need) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "API key lacks required permission"})
			return
		}

		c.Set(ctxMerchantID, key.MerchantID)
		c.Set(ctxAPIKey, key)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, token != ""
}

func merchantID(c *gin.Context) string {
	return c.GetString(ctxMerchantID)
}

func apiKey(c *gin.Context) *core.APIKey {
	key, _ := c.Get(ctxAPIKey)
	ak, _ := key.(*core.APIKey)
	return ak
}

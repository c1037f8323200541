package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(
	authService *service.AuthService,
	challenges *service.ChallengeIssuer,
	keyService *service.APIKeyService,
	linkingService *service.LinkingService,
	logger *logrus.Logger,
) *gin.Engine {
	router := gin.Default()

	// Create handlers
	authHandlers := NewAuthHandlers(authService, challenges, logger)
	keyHandlers := NewAPIKeyHandlers(keyService, logger)
	linkHandlers := NewLinkingHandlers(linkingService, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public auth routes
	auth := router.Group("/api/auth")
	{
		auth.POST("/register/email", authHandlers.RegisterEmail)
		auth.POST("/register/wallet", authHandlers.RegisterWallet)
		auth.POST("/login/email", authHandlers.LoginEmail)
		auth.POST("/login/wallet", authHandlers.LoginWallet)
		auth.POST("/refresh", authHandlers.Refresh)
		auth.GET("/wallet/challenge", authHandlers.Challenge)
		auth.POST("/wallet/verify", authHandlers.VerifySignature)
	}

	// Session-protected routes
	account := router.Group("/api/auth")
	account.Use(AuthMiddleware(authService))
	{
		account.POST("/connect-wallet", authHandlers.ConnectWallet)
		account.POST("/logout", authHandlers.Logout)
		account.PATCH("/update-email", authHandlers.UpdateEmail)
		account.GET("/generated-password", authHandlers.GeneratedPassword)
		account.GET("/sessions", authHandlers.Sessions)

		account.GET("/api-keys", keyHandlers.List)
		account.POST("/api-keys", keyHandlers.Generate)
		account.DELETE("/api-keys/:keyId", keyHandlers.Revoke)
		account.POST("/api-keys/:keyId/rotate", keyHandlers.Rotate)

		account.GET("/accounts/suggest-links", linkHandlers.SuggestLinks)
		account.POST("/accounts/initiate-link", linkHandlers.InitiateLink)
		account.POST("/accounts/confirm-link", linkHandlers.ConfirmLink)
		account.GET("/accounts/linked", linkHandlers.LinkedAccounts)
		account.POST("/accounts/unlink", linkHandlers.Unlink)
	}

	// API-key-protected routes for server-to-server callers
	api := router.Group("/api/v1")
	api.Use(APIKeyMiddleware(keyService, core.PermissionRead))
	{
		api.GET("/whoami", func(c *gin.Context) {
			key := apiKey(c)
			c.JSON(http.StatusOK, gin.H{
				"success":     true,
				"merchantId":  key.MerchantID,
				"keyId":       key.ID,
				"environment": key.Environment,
				"permissions": key.Permissions,
			})
		})
	}

	return router
}

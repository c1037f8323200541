package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/service"
)

// AuthHandlers contains HTTP handlers for the identity endpoints.
type AuthHandlers struct {
	authService *service.AuthService
	challenges  *service.ChallengeIssuer
	logger      *logrus.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, challenges *service.ChallengeIssuer, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{authService: authService, challenges: challenges, logger: logger}
}

func (h *AuthHandlers) client(c *gin.Context, rememberMe bool, fingerprint string) service.ClientContext {
	return service.ClientContext{
		IPAddress:         c.ClientIP(),
		UserAgent:         c.GetHeader("User-Agent"),
		DeviceFingerprint: fingerprint,
		RememberMe:        rememberMe,
	}
}

// RegisterEmail handles email+password registration.
func (h *AuthHandlers) RegisterEmail(c *gin.Context) {
	var req struct {
		Email             string `json:"email" binding:"required"`
		Password          string `json:"password" binding:"required"`
		BusinessName      string `json:"businessName"`
		RememberMe        bool   `json:"rememberMe"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.RegisterEmail(c.Request.Context(), service.RegisterEmailParams{
		Email:        req.Email,
		Password:     req.Password,
		BusinessName: req.BusinessName,
		Client:       h.client(c, req.RememberMe, req.DeviceFingerprint),
	})
	if err != nil {
		h.respondError(c, err, "register_email")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"token":        result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"merchant":     merchantJSON(result.Merchant),
	})
}

// RegisterWallet handles wallet-signature registration.
func (h *AuthHandlers) RegisterWallet(c *gin.Context) {
	var req struct {
		Address           string `json:"address" binding:"required"`
		Signature         string `json:"signature" binding:"required"`
		Message           string `json:"message" binding:"required"`
		PublicKey         string `json:"publicKey"`
		WalletType        string `json:"walletType"`
		BusinessName      string `json:"businessName"`
		Email             string `json:"email"`
		RememberMe        bool   `json:"rememberMe"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.RegisterWallet(c.Request.Context(), service.RegisterWalletParams{
		Address:        req.Address,
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		ChallengeToken: req.Message,
		WalletType:     req.WalletType,
		BusinessName:   req.BusinessName,
		Email:          req.Email,
		Client:         h.client(c, req.RememberMe, req.DeviceFingerprint),
	})
	if err != nil {
		h.respondError(c, err, "register_wallet")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"token":           result.Tokens.AccessToken,
		"refreshToken":    result.Tokens.RefreshToken,
		"merchant":        merchantJSON(result.Merchant),
		"walletConnected": true,
		"authMethod":      result.Merchant.AuthMethod,
	})
}

// LoginEmail handles email+password login.
func (h *AuthHandlers) LoginEmail(c *gin.Context) {
	var req struct {
		Email             string `json:"email" binding:"required"`
		Password          string `json:"password" binding:"required"`
		RememberMe        bool   `json:"rememberMe"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.LoginEmail(c.Request.Context(), service.LoginEmailParams{
		Email:    req.Email,
		Password: req.Password,
		Client:   h.client(c, req.RememberMe, req.DeviceFingerprint),
	})
	if err != nil {
		h.respondError(c, err, "login_email")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"token":        result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"merchant":     merchantJSON(result.Merchant),
	})
}

// LoginWallet handles wallet-signature login.
func (h *AuthHandlers) LoginWallet(c *gin.Context) {
	var req struct {
		Address           string `json:"address" binding:"required"`
		Signature         string `json:"signature" binding:"required"`
		Message           string `json:"message" binding:"required"`
		PublicKey         string `json:"publicKey"`
		WalletType        string `json:"walletType"`
		RememberMe        bool   `json:"rememberMe"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.LoginWallet(c.Request.Context(), service.LoginWalletParams{
		Address:        req.Address,
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		ChallengeToken: req.Message,
		WalletType:     req.WalletType,
		Client:         h.client(c, req.RememberMe, req.DeviceFingerprint),
	})
	if err != nil {
		h.respondError(c, err, "login_wallet")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"token":        result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"merchant":     merchantJSON(result.Merchant),
	})
}

// ConnectWallet binds a verified wallet to the authenticated account.
func (h *AuthHandlers) ConnectWallet(c *gin.Context) {
	var req struct {
		Address    string `json:"address" binding:"required"`
		Signature  string `json:"signature" binding:"required"`
		Message    string `json:"message" binding:"required"`
		PublicKey  string `json:"publicKey"`
		WalletType string `json:"walletType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	merchant, err := h.authService.ConnectWallet(c.Request.Context(), service.ConnectWalletParams{
		MerchantID:     merchantID(c),
		Address:        req.Address,
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		ChallengeToken: req.Message,
		WalletType:     req.WalletType,
	})
	if err != nil {
		h.respondError(c, err, "connect_wallet")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "merchant": merchantJSON(merchant)})
}

// Logout destroys the current session.
func (h *AuthHandlers) Logout(c *gin.Context) {
	err := h.authService.Logout(c.Request.Context(), merchantID(c), c.GetString(ctxSessionID))
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			// Already gone; logout is idempotent from the client's view.
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		h.respondError(c, err, "logout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Refresh mints a fresh token pair from a refresh token.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err, "refresh")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"token":        result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
	})
}

// Challenge issues a wallet signing challenge. Payment challenges need
// paymentId and amount query parameters.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	address := c.Query("address")
	challengeType := c.DefaultQuery("type", string(core.ChallengeConnection))

	var challenge *core.Challenge
	var token string
	var err error
	switch core.ChallengeSubject(challengeType) {
	case core.ChallengeConnection:
		challenge, token, err = h.challenges.IssueConnectionChallenge(address)
	case core.ChallengePayment:
		amount, _ := strconv.ParseInt(c.Query("amount"), 10, 64)
		challenge, token, err = h.challenges.IssuePaymentChallenge(address, c.Query("paymentId"), amount)
	default:
		badRequest(c, "Unknown challenge type")
		return
	}
	if err != nil {
		h.respondError(c, err, "challenge")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"challenge": token,
		"message":   challenge.Message,
		"expiresAt": challenge.ExpiresAt,
		"type":      challenge.Subject,
	})
}

// VerifySignature checks a signed challenge without mutating state.
func (h *AuthHandlers) VerifySignature(c *gin.Context) {
	var req struct {
		Challenge  string `json:"challenge" binding:"required"`
		Signature  string `json:"signature" binding:"required"`
		Address    string `json:"address" binding:"required"`
		PublicKey  string `json:"publicKey"`
		WalletType string `json:"walletType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	v := h.authService.VerifyWalletSignature(req.Challenge, req.Signature, req.Address, req.PublicKey, req.WalletType)
	resp := gin.H{"success": true, "verified": v.Verified, "address": req.Address}
	if !v.Verified {
		resp["error"] = v.Reason
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateEmail changes the account email, surfacing a linking suggestion
// when the collision looks like the same identity.
func (h *AuthHandlers) UpdateEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	suggestion, err := h.authService.UpdateEmail(c.Request.Context(), merchantID(c), req.Email)
	if err != nil {
		if suggestion != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Email already in use",
				"linkingSuggestion": gin.H{
					"canLink":       suggestion.CanLink,
					"targetAccount": candidateJSON(suggestion.TargetAccount),
				},
			})
			return
		}
		h.respondError(c, err, "update_email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Sessions lists the caller's live sessions across devices.
func (h *AuthHandlers) Sessions(c *gin.Context) {
	sessions, err := h.authService.ListSessions(c.Request.Context(), merchantID(c))
	if err != nil {
		h.respondError(c, err, "list_sessions")
		return
	}

	current := c.GetString(ctxSessionID)
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"id":                s.ID,
			"ipAddress":         s.IPAddress,
			"userAgent":         s.UserAgent,
			"deviceFingerprint": s.DeviceFingerprint,
			"rememberMe":        s.RememberMe,
			"createdAt":         s.CreatedAt,
			"expiresAt":         s.ExpiresAt,
			"current":           s.ID == current,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": out})
}

// GeneratedPassword returns the system-generated wallet password once.
func (h *AuthHandlers) GeneratedPassword(c *gin.Context) {
	password, err := h.authService.RetrieveGeneratedPassword(c.Request.Context(), merchantID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No generated password available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "password": password})
}

// respondError maps service errors to the response taxonomy: validation
// and conflicts are 400, credential failures 401, missing records 404,
// everything else a logged 500 with a stable message.
func (h *AuthHandlers) respondError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrEmailTaken),
		errors.Is(err, core.ErrWalletTaken),
		errors.Is(err, core.ErrWalletConnected),
		errors.Is(err, core.ErrChallengeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenInvalidated),
		errors.Is(err, core.ErrChallengeExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, core.ErrMerchantNotFound),
		errors.Is(err, core.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": merchantID(c),
			"operation":   operation,
		}).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func merchantJSON(m *core.Merchant) gin.H {
	return gin.H{
		"id":              m.ID,
		"name":            m.Name,
		"email":           m.Email,
		"emailVerified":   m.EmailVerified,
		"businessType":    m.BusinessType,
		"stacksAddress":   m.StacksAddress,
		"bitcoinAddress":  m.BitcoinAddress,
		"authMethod":      m.AuthMethod,
		"profileComplete": m.ProfileComplete,
		"createdAt":       m.CreatedAt,
	}
}

func candidateJSON(cand core.LinkCandidate) gin.H {
	return gin.H{
		"id":             cand.ID,
		"name":           cand.Name,
		"email":          cand.Email,
		"authMethod":     cand.AuthMethod,
		"confidence":     cand.Confidence,
		"matchingFields": cand.MatchingFields,
	}
}

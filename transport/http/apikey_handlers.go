package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/service"
)

// APIKeyHandlers contains HTTP handlers for API key management.
type APIKeyHandlers struct {
	keys   *service.APIKeyService
	logger *logrus.Logger
}

// NewAPIKeyHandlers creates new API key handlers
func NewAPIKeyHandlers(keys *service.APIKeyService, logger *logrus.Logger) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys, logger: logger}
}

// List returns the caller's API keys with redacted secrets.
func (h *APIKeyHandlers) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), merchantID(c))
	if err != nil {
		h.respondError(c, err, "list_api_keys")
		return
	}

	out := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyJSON(key))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

// Generate creates a new API key. The raw secret appears only in this
// response.
func (h *APIKeyHandlers) Generate(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Permissions []string `json:"permissions" binding:"required"`
		Environment string   `json:"environment" binding:"required"`
		ExpiresIn   int      `json:"expiresInDays"`
		IPWhitelist []string `json:"ipWhitelist"`
		RateLimit   int      `json:"rateLimit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	permissions := make([]core.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		permissions = append(permissions, core.Permission(p))
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := time.Now().AddDate(0, 0, req.ExpiresIn)
		expiresAt = &t
	}

	generated, err := h.keys.Generate(c.Request.Context(), merchantID(c), service.GenerateParams{
		Name:           req.Name,
		Permissions:    permissions,
		Environment:    core.Environment(req.Environment),
		ExpiresAt:      expiresAt,
		IPRestrictions: req.IPWhitelist,
		RateLimit:      req.RateLimit,
	})
	if err != nil {
		h.respondError(c, err, "generate_api_key")
		return
	}

	resp := keyJSON(generated.Key)
	resp["fullKey"] = generated.RawKey
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

// Revoke disables an API key immediately.
func (h *APIKeyHandlers) Revoke(c *gin.Context) {
	err := h.keys.Revoke(c.Request.Context(), merchantID(c), c.Param("keyId"))
	if err != nil {
		h.respondError(c, err, "revoke_api_key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "API key revoked"})
}

// Rotate replaces a key with a fresh secret, keeping the old one valid
// through the grace window.
func (h *APIKeyHandlers) Rotate(c *gin.Context) {
	var req struct {
		GracePeriodHours int `json:"gracePeriodHours"`
	}
	// Body is optional; absence means the default grace period.
	_ = c.ShouldBindJSON(&req)

	grace := time.Duration(req.GracePeriodHours) * time.Hour
	rotated, err := h.keys.Rotate(c.Request.Context(), merchantID(c), c.Param("keyId"), grace)
	if err != nil {
		h.respondError(c, err, "rotate_api_key")
		return
	}

	data := gin.H{
		"newKey":      keyJSON(rotated.New.Key),
		"gracePeriod": int(rotated.GracePeriod.Hours()),
		"expiresAt":   rotated.OldKeyExpiresAt,
	}
	if rotated.New.RawKey != "" {
		data["fullKey"] = rotated.New.RawKey
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *APIKeyHandlers) respondError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrAPIKeyRevoked):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, core.ErrAPIKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": merchantID(c),
			"operation":   operation,
		}).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
	}
}

func keyJSON(key *core.APIKey) gin.H {
	out := gin.H{
		"id":          key.ID,
		"name":        key.Name,
		"keyPreview":  key.Preview,
		"permissions": key.Permissions,
		"environment": key.Environment,
		"rateLimit":   key.RateLimit,
		"createdAt":   key.CreatedAt,
	}
	if len(key.IPRestrictions) > 0 {
		out["ipWhitelist"] = key.IPRestrictions
	}
	if key.ExpiresAt != nil {
		out["expiresAt"] = key.ExpiresAt
	}
	if key.RevokedAt != nil {
		out["revokedAt"] = key.RevokedAt
	}
	if key.GraceExpiresAt != nil {
		out["graceExpiresAt"] = key.GraceExpiresAt
	}
	return out
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/service"
)

// LinkingHandlers contains HTTP handlers for cross-identity account
// linking.
type LinkingHandlers struct {
	linking *service.LinkingService
	logger  *logrus.Logger
}

// NewLinkingHandlers creates new linking handlers
func NewLinkingHandlers(linking *service.LinkingService, logger *logrus.Logger) *LinkingHandlers {
	return &LinkingHandlers{linking: linking, logger: logger}
}

// SuggestLinks scores other accounts against the supplied identity
// signals and returns the plausible matches.
func (h *LinkingHandlers) SuggestLinks(c *gin.Context) {
	email := c.Query("email")
	stacksAddress := c.Query("stacksAddress")
	name := c.Query("name")
	if email == "" && stacksAddress == "" && name == "" {
		badRequest(c, "At least one of email, stacksAddress or name is required")
		return
	}

	candidates, err := h.linking.DetectLinkableAccounts(c.Request.Context(), merchantID(c), email, stacksAddress, name)
	if err != nil {
		h.respondError(c, err, "suggest_links")
		return
	}

	out := make([]gin.H, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, candidateJSON(cand))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "suggestions": out})
}

// InitiateLink starts a link between the caller and a target account
// and returns the single-use confirmation token.
func (h *LinkingHandlers) InitiateLink(c *gin.Context) {
	var req struct {
		TargetAccountID string `json:"targetAccountId" binding:"required"`
		PrimaryRole     string `json:"primaryRole"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	token, expiresAt, err := h.linking.InitiateLinking(c.Request.Context(), merchantID(c), req.TargetAccountID, req.PrimaryRole)
	if err != nil {
		h.respondError(c, err, "initiate_link")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"linkingToken": token,
		"expiresAt":    expiresAt,
	})
}

// ConfirmLink consumes a linking token and joins the two accounts.
func (h *LinkingHandlers) ConfirmLink(c *gin.Context) {
	var req struct {
		LinkingToken string `json:"linkingToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	source, err := h.linking.ConfirmLinking(c.Request.Context(), req.LinkingToken, merchantID(c))
	if err != nil {
		h.respondError(c, err, "confirm_link")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"linkedAccount": merchantJSON(source),
	})
}

// LinkedAccounts lists the accounts linked to the caller.
func (h *LinkingHandlers) LinkedAccounts(c *gin.Context) {
	linked, err := h.linking.GetLinkedAccounts(c.Request.Context(), merchantID(c))
	if err != nil {
		h.respondError(c, err, "linked_accounts")
		return
	}

	out := make([]gin.H, 0, len(linked))
	for _, m := range linked {
		out = append(out, merchantJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "linkedAccounts": out})
}

// Unlink removes an existing link in both directions.
func (h *LinkingHandlers) Unlink(c *gin.Context) {
	var req struct {
		AccountID string `json:"accountId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	if err := h.linking.UnlinkAccounts(c.Request.Context(), merchantID(c), req.AccountID); err != nil {
		h.respondError(c, err, "unlink")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Accounts unlinked"})
}

func (h *LinkingHandlers) respondError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrLinkTokenExpired),
		errors.Is(err, core.ErrLinkTokenConsumed),
		errors.Is(err, core.ErrLinkWrongMerchant),
		errors.Is(err, core.ErrNotLinked):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, core.ErrMerchantNotFound),
		errors.Is(err, core.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": merchantID(c),
			"operation":   operation,
		}).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
	}
}

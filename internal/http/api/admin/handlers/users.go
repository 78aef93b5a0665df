package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/util"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// UsersHandler provisions ledger accounts and answers gateway model checks.
type UsersHandler struct {
	ledger  *wallet.Ledger
	tracker *quota.Tracker
	policy  func() settings.Policy
}

// NewUsersHandler constructs a UsersHandler.
func NewUsersHandler(ledger *wallet.Ledger, tracker *quota.Tracker, policy func() settings.Policy) *UsersHandler {
	if policy == nil {
		policy = settings.DefaultPolicy
	}
	return &UsersHandler{ledger: ledger, tracker: tracker, policy: policy}
}

type provisionRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Provision creates the user and wallet. Repeating it is harmless.
func (h *UsersHandler) Provision(c *gin.Context) {
	var body provisionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := h.ledger.Provision(c.Request.Context(), wallet.ProvisionInput{
		UserID: body.UserID,
		Email:  strings.TrimSpace(body.Email),
		Name:   strings.TrimSpace(body.Name),
	}, h.policy().WelcomeBonusMicro)
	if err != nil {
		logging.WithRequest(c).WithError(err).Errorf("provision user %d failed", body.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provision failed"})
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"user_id":       res.Wallet.UserID,
		"created":       res.Created,
		"balance_micro": res.Wallet.BalanceMicro,
		"balance_usd":   util.FormatUSD(res.Wallet.BalanceMicro),
	})
}

// Models returns the models the user may call, or 402 when the free tier is exhausted.
func (h *UsersHandler) Models(c *gin.Context) {
	userID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if h.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota tracking disabled"})
		return
	}
	allowed, err := h.tracker.AllowedModels(c.Request.Context(), userID)
	if err != nil {
		logging.WithRequest(c).WithError(err).Errorf("allowed models for user %d failed", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	if len(allowed) == 0 {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "daily free quota exhausted", "models": allowed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": allowed})
}

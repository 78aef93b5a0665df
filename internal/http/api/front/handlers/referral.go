package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/referral"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// ReferralHandler issues and applies referral codes.
type ReferralHandler struct {
	engine *referral.Engine
}

// NewReferralHandler constructs a ReferralHandler.
func NewReferralHandler(engine *referral.Engine) *ReferralHandler {
	return &ReferralHandler{engine: engine}
}

// Code returns the caller's referral code, creating it on first use.
func (h *ReferralHandler) Code(c *gin.Context) {
	code, err := h.engine.GenerateCode(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

type applyReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// Apply records the code that referred the caller.
func (h *ReferralHandler) Apply(c *gin.Context) {
	var body applyReferralRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.engine.ApplyCode(c.Request.Context(), currentUser(c), body.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "code": referral.NormalizeCode(body.Code)})
}

func (h *ReferralHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, referral.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral code"})
	case errors.Is(err, referral.ErrCannotReferSelf):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot apply your own referral code"})
	case errors.Is(err, referral.ErrAlreadyApplied):
		c.JSON(http.StatusConflict, gin.H{"error": "referral code already applied"})
	case errors.Is(err, wallet.ErrWalletMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
	default:
		logging.WithRequest(c).WithError(err).Error("referral request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "referral request failed"})
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/util"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// WalletHandler applies operator adjustments.
type WalletHandler struct {
	ledger *wallet.Ledger
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(ledger *wallet.Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

type adjustRequest struct {
	UserID      uint64 `json:"user_id" binding:"required"`
	AmountMicro int64  `json:"amount_micro"`
	AmountUSD   string `json:"amount_usd"`
	RefID       string `json:"ref_id"`
}

// Adjust credits an adjustment. Either amount_micro or amount_usd must be set.
func (h *WalletHandler) Adjust(c *gin.Context) {
	var body adjustRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount := body.AmountMicro
	if usd := strings.TrimSpace(body.AmountUSD); usd != "" {
		parsed, errParse := util.USDToMicro(usd)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount_usd"})
			return
		}
		amount = parsed
	}

	entry, err := h.ledger.Credit(c.Request.Context(), body.UserID, amount, models.CreditSourceAdjustment, body.RefID)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		case errors.Is(err, wallet.ErrWalletMissing):
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
		case errors.Is(err, wallet.ErrConcurrentUpdate):
			c.JSON(http.StatusConflict, gin.H{"error": "wallet busy, retry"})
		default:
			logging.WithRequest(c).WithError(err).Errorf("adjust wallet of user %d failed", body.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "adjust failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": entry.ID,
		"amount_micro":   entry.AmountMicro,
		"amount_usd":     util.FormatUSD(entry.AmountMicro),
		"ref_id":         entry.RefID,
	})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/settlement"
)

// SettlementHandler triggers postpaid settlement on demand.
type SettlementHandler struct {
	settler *settlement.Settler
}

// NewSettlementHandler constructs a SettlementHandler.
func NewSettlementHandler(settler *settlement.Settler) *SettlementHandler {
	return &SettlementHandler{settler: settler}
}

// Run executes one settlement pass.
func (h *SettlementHandler) Run(c *gin.Context) {
	if h.settler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement disabled"})
		return
	}
	res, err := h.settler.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, settlement.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "settlement already running"})
			return
		}
		logging.WithRequest(c).WithError(err).Error("settlement run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

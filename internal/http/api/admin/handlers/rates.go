package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/pricing"
)

// RatesHandler exposes the rate registry.
type RatesHandler struct {
	registry  *pricing.Registry
	refresher *pricing.Refresher
}

// NewRatesHandler constructs a RatesHandler.
func NewRatesHandler(registry *pricing.Registry, refresher *pricing.Refresher) *RatesHandler {
	return &RatesHandler{registry: registry, refresher: refresher}
}

// List returns every stored rate row.
func (h *RatesHandler) List(c *gin.Context) {
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pricing disabled"})
		return
	}
	rows, err := h.registry.List(c.Request.Context())
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("list rates failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list rates failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rows})
}

// Refresh pulls the price feed once.
func (h *RatesHandler) Refresh(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pricing disabled"})
		return
	}
	version, err := h.refresher.RefreshOnce(c.Request.Context())
	if err != nil {
		logging.WithRequest(c).WithError(err).Warn("manual rate refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "price feed unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "refreshed": version != 0})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/quota"
)

// ModelsHandler lists the models a caller may use.
type ModelsHandler struct {
	tracker *quota.Tracker
}

// NewModelsHandler constructs a ModelsHandler.
func NewModelsHandler(tracker *quota.Tracker) *ModelsHandler {
	return &ModelsHandler{tracker: tracker}
}

// List returns the allowed models. Anonymous callers get the free tier.
func (h *ModelsHandler) List(c *gin.Context) {
	if h.tracker == nil {
		c.JSON(http.StatusOK, gin.H{"models": []string{}})
		return
	}
	allowed, err := h.tracker.AllowedModels(c.Request.Context(), currentUser(c))
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("list allowed models failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": allowed})
}

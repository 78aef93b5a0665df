package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/metering"
	"github.com/router-for-me/CreditLedger/internal/pricing"
	"github.com/router-for-me/CreditLedger/internal/usage"
	"github.com/router-for-me/CreditLedger/internal/util"
)

// UsageHandler ingests completed-generation reports.
type UsageHandler struct {
	recorder *usage.Recorder
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(recorder *usage.Recorder) *UsageHandler {
	return &UsageHandler{recorder: recorder}
}

type usageReportRequest struct {
	RequestID        string `json:"request_id"`
	UserID           uint64 `json:"user_id"`
	ConversationID   string `json:"conversation_id"`
	ToolSlug         string `json:"tool_slug"`
	ModelID          string `json:"model_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Report meters and bills one generation.
func (h *UsageHandler) Report(c *gin.Context) {
	var body usageReportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := h.recorder.Record(c.Request.Context(), usage.Report{
		RequestID:        body.RequestID,
		UserID:           body.UserID,
		ConversationID:   body.ConversationID,
		ToolSlug:         body.ToolSlug,
		ModelID:          body.ModelID,
		PromptTokens:     body.PromptTokens,
		CompletionTokens: body.CompletionTokens,
	})
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrUserRequired), errors.Is(err, usage.ErrInvalidReport), errors.Is(err, metering.ErrNegativeInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, pricing.ErrRateMissing):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no rate for model"})
		case errors.Is(err, metering.ErrCostOverflow):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cost out of range"})
		default:
			logging.WithRequest(c).WithError(err).Errorf("record usage for user %d failed", body.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "record usage failed"})
		}
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	total := res.Event.TotalMicro()
	out := gin.H{
		"event_id":       res.Event.ID,
		"status":         res.Event.Status,
		"duplicate":      res.Duplicate,
		"cost_micro":     res.Event.UsdMicroCost,
		"margin_micro":   res.Event.UsdMicroMargin,
		"total_micro":    total,
		"total_usd":      util.FormatUSD(total),
		"unfunded_micro": res.Event.UnfundedMicro,
	}
	if res.Limits != nil {
		out["used_today_micro"] = res.Limits.FreeModeUsedTodayUsdMicro
	}
	c.JSON(status, out)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/util"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// WalletHandler serves the owner's balance views.
type WalletHandler struct {
	ledger  *wallet.Ledger
	tracker *quota.Tracker
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(ledger *wallet.Ledger, tracker *quota.Tracker) *WalletHandler {
	return &WalletHandler{ledger: ledger, tracker: tracker}
}

type walletSummaryResponse struct {
	BalanceMicro int64     `json:"balance_micro"`
	BalanceUSD   string    `json:"balance_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary returns the wallet balance.
func (h *WalletHandler) Summary(c *gin.Context) {
	userID := currentUser(c)
	summary, err := h.ledger.Summary(c.Request.Context(), userID)
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("wallet summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load wallet failed"})
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
		return
	}
	c.JSON(http.StatusOK, walletSummaryResponse{
		BalanceMicro: summary.BalanceMicro,
		BalanceUSD:   util.FormatUSD(summary.BalanceMicro),
		UpdatedAt:    summary.UpdatedAt,
	})
}

type limitsResponse struct {
	IsLimited       bool   `json:"is_limited"`
	DailyQuotaMicro int64  `json:"daily_quota_micro"`
	UsedTodayMicro  int64  `json:"used_today_micro"`
	DailyQuotaUSD   string `json:"daily_quota_usd"`
	UsedTodayUSD    string `json:"used_today_usd"`
}

// Limits returns today's free-tier position.
func (h *WalletHandler) Limits(c *gin.Context) {
	if h.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota tracking disabled"})
		return
	}
	summary, err := h.tracker.Summary(c.Request.Context(), currentUser(c))
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("limits summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load limits failed"})
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
		return
	}
	c.JSON(http.StatusOK, limitsResponse{
		IsLimited:       summary.IsLimited,
		DailyQuotaMicro: summary.DailyQuotaMicro,
		UsedTodayMicro:  summary.UsedTodayMicro,
		DailyQuotaUSD:   util.FormatUSD(summary.DailyQuotaMicro),
		UsedTodayUSD:    util.FormatUSD(summary.UsedTodayMicro),
	})
}

// Progress returns spending since the last payment.
func (h *WalletHandler) Progress(c *gin.Context) {
	progress, err := h.ledger.CreditProgress(c.Request.Context(), currentUser(c))
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("credit progress failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load progress failed"})
		return
	}
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_micro":                 progress.BalanceMicro,
		"balance_usd":                   util.FormatUSD(progress.BalanceMicro),
		"last_payment_at":               progress.LastPaymentAt,
		"used_since_last_payment_micro": progress.UsedSinceLastPaymentMicro,
		"used_since_last_payment_usd":   util.FormatUSD(progress.UsedSinceLastPaymentMicro),
	})
}

type transactionsQuery struct {
	Page  int `form:"page,default=1"`
	Limit int `form:"limit,default=20"`
}

type transactionItem struct {
	ID          uint64              `json:"id"`
	AmountMicro int64               `json:"amount_micro"`
	AmountUSD   string              `json:"amount_usd"`
	Source      models.CreditSource `json:"source"`
	RefID       string              `json:"ref_id"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Transactions returns the paginated ledger history.
func (h *WalletHandler) Transactions(c *gin.Context) {
	var q transactionsQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	page, err := h.ledger.ListTransactions(c.Request.Context(), currentUser(c), q.Page, q.Limit)
	if err != nil {
		logging.WithRequest(c).WithError(err).Error("list transactions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	items := make([]transactionItem, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, transactionItem{
			ID:          entry.ID,
			AmountMicro: entry.AmountMicro,
			AmountUSD:   util.FormatUSD(entry.AmountMicro),
			Source:      entry.Source,
			RefID:       entry.RefID,
			CreatedAt:   entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": page.Total,
		"page":  page.Page,
		"limit": page.Limit,
	})
}

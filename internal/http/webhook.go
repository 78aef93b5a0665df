package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/payment"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

type webhookHandler struct {
	processor *payment.Processor
}

func (h *webhookHandler) Payment(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	res, err := h.processor.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, payment.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, wallet.ErrWalletMissing):
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet not provisioned"})
		case errors.Is(err, wallet.ErrConcurrentUpdate):
			c.JSON(http.StatusConflict, gin.H{"error": "wallet busy, retry"})
		default:
			logging.WithRequest(c).WithError(err).Error("payment webhook failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "outcome": res.Outcome})
}

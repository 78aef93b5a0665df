package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/CreditLedger/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	// RequestIDHeader carries the request ID in and out.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	maxIDLength  = 128
)

// SetGinRequestID stores id on the gin context.
func SetGinRequestID(c *gin.Context, id string) {
	if c != nil {
		c.Set(requestIDKey, id)
	}
}

// GetGinRequestID returns the request ID stored on the gin context.
func GetGinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(requestIDKey)
}

// WithRequest returns a log entry tagged with the request ID.
func WithRequest(c *gin.Context) *log.Entry {
	return log.WithField("request_id", GetGinRequestID(c))
}

// GinMiddleware assigns a request ID and logs one line per request.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxIDLength {
			id = uuid.NewString()
		}
		SetGinRequestID(c, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			entry = entry.WithField("query", util.MaskSensitiveQuery(rawQuery))
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			entry = entry.WithError(lastErr.Err)
		}
		switch {
		case c.FullPath() == "/metrics" || c.FullPath() == "/healthz":
			entry.Debug("http request")
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

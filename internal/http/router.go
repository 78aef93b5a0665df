// Package http assembles the gin engine: probes, metrics, the front and internal APIs and the payment webhook.
package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin"
	adminhandlers "github.com/router-for-me/CreditLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/CreditLedger/internal/http/api/front"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/payment"
	"github.com/router-for-me/CreditLedger/internal/referral"
	"gorm.io/gorm"
)

const (
	defaultRatePerSecond = 20
	defaultRateBurst     = 40
)

// Options carries everything the router wires.
type Options struct {
	DB        *gorm.DB
	Config    *config.Config
	Services  admin.Services
	Referral  *referral.Engine
	Payments  *payment.Processor
	RateLimit *RateLimiter
}

// NewRouter builds the engine. ctx bounds background helpers such as the limiter sweeper.
func NewRouter(ctx context.Context, opts Options) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(), MetricsMiddleware())

	health := adminhandlers.NewHealthHandler(opts.DB)
	engine.GET("/healthz", health.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := opts.RateLimit
	if limiter == nil {
		rps, burst := cfg.RateLimit.PerSecond, cfg.RateLimit.Burst
		if rps <= 0 {
			rps = defaultRatePerSecond
		}
		if burst <= 0 {
			burst = defaultRateBurst
		}
		limiter = NewRateLimiter(ctx, rps, burst, 3*time.Minute)
	}

	front.RegisterFrontRoutes(engine, cfg.JWT, opts.Services.Ledger, opts.Services.Tracker, opts.Referral)
	admin.RegisterAdminRoutes(engine, cfg.Internal, opts.Services, limiter.Middleware())

	if opts.Payments != nil {
		hooks := &webhookHandler{processor: opts.Payments}
		engine.POST("/v0/webhooks/payment", limiter.Middleware(), hooks.Payment)
	}
	return engine
}

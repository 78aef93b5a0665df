// Package admin registers the service-to-service routes used by the gateway, the billing worker and operators.
package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/CreditLedger/internal/pricing"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/settlement"
	"github.com/router-for-me/CreditLedger/internal/usage"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// Services bundles what the internal routes call into.
type Services struct {
	Ledger        *wallet.Ledger
	Recorder      *usage.Recorder
	Tracker       *quota.Tracker
	Settler       *settlement.Settler
	Registry      *pricing.Registry
	RateRefresher *pricing.Refresher
	Policy        func() settings.Policy
}

// RegisterAdminRoutes registers /v0/internal routes behind the internal key.
func RegisterAdminRoutes(r *gin.Engine, internalCfg config.InternalConfig, svc Services, extra ...gin.HandlerFunc) {
	if r == nil || svc.Ledger == nil {
		return
	}

	group := r.Group("/v0/internal")
	group.Use(extra...)
	group.Use(internalKeyMiddleware(internalCfg.APIKeyHash))
	group.Use(scopeMiddleware(internalCfg.Scopes))

	usersHandler := handlers.NewUsersHandler(svc.Ledger, svc.Tracker, svc.Policy)
	group.POST("/users", usersHandler.Provision)
	group.GET("/users/:id/models", usersHandler.Models)

	usageHandler := handlers.NewUsageHandler(svc.Recorder)
	group.POST("/usage", usageHandler.Report)

	walletHandler := handlers.NewWalletHandler(svc.Ledger)
	group.POST("/wallet/adjust", walletHandler.Adjust)

	settlementHandler := handlers.NewSettlementHandler(svc.Settler)
	group.POST("/settlement/run", settlementHandler.Run)

	ratesHandler := handlers.NewRatesHandler(svc.Registry, svc.RateRefresher)
	group.GET("/rates", ratesHandler.List)
	group.POST("/rates/refresh", ratesHandler.Refresh)
}

package front

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/http/api/front/handlers"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/referral"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/wallet"
)

// RegisterFrontRoutes registers the end-user routes.
func RegisterFrontRoutes(r *gin.Engine, jwtCfg config.JWTConfig, ledger *wallet.Ledger, tracker *quota.Tracker, engine *referral.Engine) {
	if r == nil || ledger == nil {
		return
	}

	front := r.Group("/v0/front")

	modelsHandler := handlers.NewModelsHandler(tracker)
	front.GET("/models", optionalUserAuthMiddleware(jwtCfg), modelsHandler.List)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(jwtCfg))

	walletHandler := handlers.NewWalletHandler(ledger, tracker)
	authed.GET("/wallet", walletHandler.Summary)
	authed.GET("/wallet/limits", walletHandler.Limits)
	authed.GET("/wallet/progress", walletHandler.Progress)
	authed.GET("/wallet/transactions", walletHandler.Transactions)

	referralHandler := handlers.NewReferralHandler(engine)
	authed.POST("/referral/code", referralHandler.Code)
	authed.POST("/referral/apply", referralHandler.Apply)
}

// userAuthMiddleware validates user JWTs and stores the user ID in context.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		if !authenticate(c, jwtCfg, authHeader) {
			return
		}
		c.Next()
	}
}

// optionalUserAuthMiddleware resolves the user when a token is present and lets anonymous requests through.
func optionalUserAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && !authenticate(c, jwtCfg, authHeader) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, jwtCfg config.JWTConfig, authHeader string) bool {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
		return false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
		return false
	}

	claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
	if errJWT != nil {
		msg := "invalid token"
		if errors.Is(errJWT, security.ErrExpiredToken) {
			msg = "token expired"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return false
	}

	handlers.SetCurrentUser(c, claims.UserID)
	return true
}

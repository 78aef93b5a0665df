// Package app wires configuration, storage, background jobs and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/db"
	ledgerhttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin"
	"github.com/router-for-me/CreditLedger/internal/lock"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/payment"
	"github.com/router-for-me/CreditLedger/internal/pricing"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/referral"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/settlement"
	"github.com/router-for-me/CreditLedger/internal/usage"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// InternalKey is a freshly generated service-to-service key and the hash to put in the config file.
type InternalKey struct {
	Key  string
	Hash string
}

// GenerateInternalKey creates a new internal API key.
func GenerateInternalKey() (*InternalKey, error) {
	key, err := security.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	hash, err := security.HashSecret(key)
	if err != nil {
		return nil, err
	}
	return &InternalKey{Key: key, Hash: hash}, nil
}

// PolicyDefaults turns the billing section into the base policy.
func PolicyDefaults(billing config.BillingConfig) settings.Policy {
	return settings.Policy{
		MarginPPM:              billing.MarginPPM,
		ReferralThresholdMicro: billing.ReferralThresholdMicro,
		ReferralBonusMicro:     billing.ReferralBonusMicro,
		FreeDailyQuotaMicro:    billing.FreeDailyQuotaMicro,
		WelcomeBonusMicro:      billing.WelcomeBonusMicro,
	}
}

// Components holds the wired services.
type Components struct {
	DB       *gorm.DB
	Ledger   *wallet.Ledger
	Policy   func() settings.Policy
	Registry *pricing.Registry
	Rates    *pricing.Refresher
	Tracker  *quota.Tracker
	Recorder *usage.Recorder
	Referral *referral.Engine
	Payments *payment.Processor
	Settler  *settlement.Settler
	Settings *settings.Refresher
	Cleaner  *payment.RetentionCleaner
}

// Build wires every service on top of an open connection. It starts nothing.
func Build(conn *gorm.DB, cfg *config.Config) *Components {
	defaults := PolicyDefaults(cfg.Billing)
	policy := func() settings.Policy { return settings.CurrentPolicy(defaults) }

	ledger := wallet.NewLedger(conn)
	registry := pricing.NewRegistry(conn, pricing.WithDeactivatePrevious(cfg.Pricing.DeactivatePrevious))
	feed := pricing.NewFeedClient(cfg.Pricing.FeedURL, cfg.Pricing.RequestTimeout)
	engine := referral.NewEngine(ledger, policy)

	var locker settlement.Locker
	if redisLocker := lock.NewLocker(lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), "credit-ledger"); redisLocker != nil {
		locker = redisLocker
	}

	return &Components{
		DB:       conn,
		Ledger:   ledger,
		Policy:   policy,
		Registry: registry,
		Rates:    pricing.NewRefresher(registry, feed, cfg.Pricing.RefreshInterval, metrics.RecordPricingRefresh),
		Tracker: quota.NewTracker(conn, quota.Tiers{
			Free:          cfg.Models.Free,
			Unprovisioned: cfg.Models.Unprovisioned,
			Whitelist:     cfg.Models.Whitelist,
		}, func() int64 { return policy().FreeDailyQuotaMicro }),
		Recorder: usage.NewRecorder(ledger, policy, cfg.Pricing.MissingRatePolicy),
		Referral: engine,
		Payments: payment.NewProcessor(ledger, engine, cfg.Webhook.Secret),
		Settler: settlement.NewSettler(conn, locker, settlement.Options{
			Interval:     cfg.Settlement.Interval,
			TrailingDays: cfg.Settlement.TrailingDays,
			DedupWindow:  cfg.Settlement.DedupWindow,
			LockTTL:      cfg.Settlement.LockTTL,
		}),
		Settings: settings.NewRefresher(conn, 0),
		Cleaner:  payment.NewRetentionCleaner(conn),
	}
}

// Router builds the HTTP engine for the components.
func (c *Components) Router(ctx context.Context, cfg *config.Config) *gin.Engine {
	return ledgerhttp.NewRouter(ctx, ledgerhttp.Options{
		DB:     c.DB,
		Config: cfg,
		Services: admin.Services{
			Ledger:        c.Ledger,
			Recorder:      c.Recorder,
			Tracker:       c.Tracker,
			Settler:       c.Settler,
			Registry:      c.Registry,
			RateRefresher: c.Rates,
			Policy:        c.Policy,
		},
		Referral: c.Referral,
		Payments: c.Payments,
	})
}

// RunServer loads the config, starts the background jobs and serves HTTP until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSnapshot := settings.RefreshDBConfigSnapshot(ctx, conn); errSnapshot != nil {
		return fmt.Errorf("load settings: %w", errSnapshot)
	}
	if cfg.Internal.APIKeyHash == "" {
		log.Warn("internal.api-key-hash is empty, internal routes are disabled")
	}
	if cfg.Webhook.Secret == "" {
		log.Warn("webhook.secret is empty, payment webhooks will be rejected")
	}

	components := Build(conn, cfg)
	components.Settings.Start(ctx)
	components.Rates.Start(ctx)
	components.Settler.Start(ctx)
	components.Cleaner.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      components.Router(ctx, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Infof("credit ledger listening on %s (config=%s dialect=%s)", cfg.Server.Address, configPath, db.DialectName(conn))
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen := <-errServe:
		if errListen != nil {
			return fmt.Errorf("http server: %w", errListen)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("http shutdown: %w", errShutdown)
	}
	return nil
}

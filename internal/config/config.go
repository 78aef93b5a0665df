// Package config loads the static YAML configuration of the ledger service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when neither the flag nor the environment names a file.
	DefaultConfigPath = "config.yaml"
	// ConfigPathEnv names the environment variable holding the config path.
	ConfigPathEnv = "CREDIT_LEDGER_CONFIG"
)

// Missing-rate policies.
const (
	// MissingRateFree prices unknown models at zero.
	MissingRateFree = "free"
	// MissingRateReject refuses to record usage for unknown models.
	MissingRateReject = "reject"
)

// AppConfig holds process-level options gathered from flags.
type AppConfig struct {
	ConfigPath string
}

// Config is the full static configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Internal   InternalConfig   `yaml:"internal"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Settlement SettlementConfig `yaml:"settlement"`
	Models     ModelsConfig     `yaml:"models"`
	Billing    BillingConfig    `yaml:"billing"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate-limit"`
}

// ServerConfig contains HTTP server options.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read-timeout"`
	WriteTimeout time.Duration `yaml:"write-timeout"`
}

// DatabaseConfig contains the database DSN (postgres URL or sqlite path).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is optional; an empty address disables distributed locking.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds the secret used to verify end-user tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// InternalConfig guards service-to-service endpoints.
type InternalConfig struct {
	// APIKeyHash is a bcrypt hash of the internal API key.
	APIKeyHash string `yaml:"api-key-hash"`
	// Scopes limits which internal routes the key may call; empty grants all.
	Scopes []string `yaml:"scopes"`
}

// WebhookConfig holds the shared secret used to sign payment webhooks.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// PricingConfig controls the rate registry refresh.
type PricingConfig struct {
	FeedURL            string        `yaml:"feed-url"`
	RefreshInterval    time.Duration `yaml:"refresh-interval"`
	RequestTimeout     time.Duration `yaml:"request-timeout"`
	DeactivatePrevious bool          `yaml:"deactivate-previous"`
	MissingRatePolicy  string        `yaml:"missing-rate-policy"`
}

// SettlementConfig controls the postpaid settlement batch.
type SettlementConfig struct {
	Interval     time.Duration `yaml:"interval"`
	TrailingDays int           `yaml:"trailing-days"`
	DedupWindow  time.Duration `yaml:"dedup-window"`
	LockTTL      time.Duration `yaml:"lock-ttl"`
}

// ModelsConfig lists the models offered at each tier.
type ModelsConfig struct {
	Free          string   `yaml:"free"`
	Unprovisioned string   `yaml:"unprovisioned"`
	Whitelist     []string `yaml:"whitelist"`
}

// BillingConfig holds policy defaults; the settings table may override them at runtime.
type BillingConfig struct {
	MarginPPM              int64 `yaml:"margin-ppm"`
	ReferralThresholdMicro int64 `yaml:"referral-threshold-micro"`
	ReferralBonusMicro     int64 `yaml:"referral-bonus-micro"`
	FreeDailyQuotaMicro    int64 `yaml:"free-daily-quota-micro"`
	WelcomeBonusMicro      int64 `yaml:"welcome-bonus-micro"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// RateLimitConfig controls the per-client limiter on internal and webhook routes.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per-second"`
	Burst     int     `yaml:"burst"`
}

// ResolveConfigPath picks the config path from the flag, the environment, or the default.
func ResolveConfigPath(flagPath string) string {
	if trimmed := strings.TrimSpace(flagPath); trimmed != "" {
		return trimmed
	}
	if envPath := strings.TrimSpace(os.Getenv(ConfigPathEnv)); envPath != "" {
		return envPath
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a regular file exists at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML file at path, applies environment overrides and defaults, and validates the result.
// A missing file is not an error when DATABASE_DSN is set.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, errRead := os.ReadFile(filepath.Clean(path))
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist) && os.Getenv("DATABASE_DSN") != "":
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN returns only the database DSN, for tooling that does not need the rest.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func (c *Config) applyEnv() {
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.Webhook.Secret = getEnv("WEBHOOK_SECRET", c.Webhook.Secret)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8318"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Pricing.RefreshInterval <= 0 {
		c.Pricing.RefreshInterval = time.Hour
	}
	if c.Pricing.RequestTimeout <= 0 {
		c.Pricing.RequestTimeout = 10 * time.Second
	}
	c.Pricing.MissingRatePolicy = strings.ToLower(strings.TrimSpace(c.Pricing.MissingRatePolicy))
	if c.Pricing.MissingRatePolicy == "" {
		c.Pricing.MissingRatePolicy = MissingRateFree
	}
	if c.Settlement.Interval <= 0 {
		c.Settlement.Interval = time.Hour
	}
	if c.Settlement.TrailingDays <= 0 {
		c.Settlement.TrailingDays = 30
	}
	if c.Settlement.DedupWindow <= 0 {
		c.Settlement.DedupWindow = 24 * time.Hour
	}
	if c.Settlement.LockTTL <= 0 {
		c.Settlement.LockTTL = 10 * time.Minute
	}
	if c.Billing.MarginPPM <= 0 {
		c.Billing.MarginPPM = 50_000
	}
	if c.Billing.ReferralThresholdMicro <= 0 {
		c.Billing.ReferralThresholdMicro = 20_000_000
	}
	if c.Billing.ReferralBonusMicro <= 0 {
		c.Billing.ReferralBonusMicro = 10_000_000
	}
	if c.Billing.FreeDailyQuotaMicro <= 0 {
		c.Billing.FreeDailyQuotaMicro = 500_000
	}
	if c.Billing.WelcomeBonusMicro < 0 {
		c.Billing.WelcomeBonusMicro = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Pricing.MissingRatePolicy {
	case MissingRateFree, MissingRateReject:
	default:
		return fmt.Errorf("config: unknown pricing.missing-rate-policy %q", c.Pricing.MissingRatePolicy)
	}
	if c.Settlement.TrailingDays > 366 {
		return fmt.Errorf("config: settlement.trailing-days %d out of range", c.Settlement.TrailingDays)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

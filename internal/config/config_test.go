package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	path := writeConfig(t, "database:\n  dsn: \"file:ledger.db\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Billing.MarginPPM != 50_000 {
		t.Fatalf("expected default margin, got %d", cfg.Billing.MarginPPM)
	}
	if cfg.Pricing.MissingRatePolicy != MissingRateFree {
		t.Fatalf("expected free policy, got %q", cfg.Pricing.MissingRatePolicy)
	}
	if cfg.Settlement.DedupWindow != 24*time.Hour || cfg.Settlement.TrailingDays != 30 {
		t.Fatalf("unexpected settlement defaults: %+v", cfg.Settlement)
	}
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	path := writeConfig(t, `
server:
  address: ":9000"
database:
  dsn: "postgres://ledger@localhost/ledger"
pricing:
  feed-url: "https://prices.example.com/v1"
  refresh-interval: 30m
  deactivate-previous: true
  missing-rate-policy: Reject
models:
  free: "mini"
  unprovisioned: "nano"
  whitelist: ["mini", "large"]
billing:
  referral-bonus-micro: 5000000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if !cfg.Pricing.DeactivatePrevious || cfg.Pricing.RefreshInterval != 30*time.Minute {
		t.Fatalf("unexpected pricing: %+v", cfg.Pricing)
	}
	if cfg.Pricing.MissingRatePolicy != MissingRateReject {
		t.Fatalf("expected reject policy, got %q", cfg.Pricing.MissingRatePolicy)
	}
	if len(cfg.Models.Whitelist) != 2 || cfg.Models.Unprovisioned != "nano" {
		t.Fatalf("unexpected models: %+v", cfg.Models)
	}
	if cfg.Billing.ReferralBonusMicro != 5_000_000 || cfg.Billing.ReferralThresholdMicro != 20_000_000 {
		t.Fatalf("unexpected billing: %+v", cfg.Billing)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: \"file:a.db\"\njwt:\n  secret: from-file\n")
	t.Setenv("DATABASE_DSN", "file:b.db")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "file:b.db" || cfg.JWT.Secret != "from-env" {
		t.Fatalf("env overrides not applied: dsn=%q jwt=%q", cfg.Database.DSN, cfg.JWT.Secret)
	}
	if cfg.Webhook.Secret != "hook" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("env overrides not applied: webhook=%q redis=%q", cfg.Webhook.Secret, cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	if _, err := Load(writeConfig(t, "server:\n  address: \":1\"\n")); err == nil {
		t.Fatalf("expected missing dsn error")
	}
	if _, err := Load(writeConfig(t, "database:\n  dsn: x.db\npricing:\n  missing-rate-policy: maybe\n")); err == nil {
		t.Fatalf("expected invalid policy error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv(ConfigPathEnv, "/etc/ledger.yaml")
	if got := ResolveConfigPath(""); got != "/etc/ledger.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := ResolveConfigPath(" custom.yaml "); got != "custom.yaml" {
		t.Fatalf("expected flag path, got %q", got)
	}
}

package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/db"
)

func TestCurrentPolicyUsesDefaultsWithoutOverrides(t *testing.T) {
	StoreSnapshot(time.Time{}, nil)

	p := CurrentPolicy(DefaultPolicy())
	if p.MarginPPM != 50_000 {
		t.Fatalf("expected default margin 50000, got %d", p.MarginPPM)
	}
	if p.FreeDailyQuotaMicro != 500_000 {
		t.Fatalf("expected default quota 500000, got %d", p.FreeDailyQuotaMicro)
	}
	if p.Version != 0 {
		t.Fatalf("expected zero version, got %d", p.Version)
	}
}

func TestCurrentPolicyOverlaysSnapshot(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	StoreSnapshot(updatedAt, map[string]json.RawMessage{
		MarginPPMKey:              json.RawMessage(`70000`),
		ReferralBonusMicroKey:     json.RawMessage(`"5000000"`),
		ReferralThresholdMicroKey: json.RawMessage(`{"value": 30000000}`),
		FreeDailyQuotaMicroKey:    json.RawMessage(`-1`),
		WelcomeBonusMicroKey:      json.RawMessage(`1.5`),
	})
	defer StoreSnapshot(time.Time{}, nil)

	p := CurrentPolicy(DefaultPolicy())
	if p.MarginPPM != 70_000 {
		t.Fatalf("expected margin 70000, got %d", p.MarginPPM)
	}
	if p.ReferralBonusMicro != 5_000_000 {
		t.Fatalf("expected bonus 5000000, got %d", p.ReferralBonusMicro)
	}
	if p.ReferralThresholdMicro != 30_000_000 {
		t.Fatalf("expected threshold 30000000, got %d", p.ReferralThresholdMicro)
	}
	if p.FreeDailyQuotaMicro != DefaultFreeDailyQuotaMicro {
		t.Fatalf("negative override must be ignored, got %d", p.FreeDailyQuotaMicro)
	}
	if p.WelcomeBonusMicro != DefaultWelcomeBonusMicro {
		t.Fatalf("fractional override must be ignored, got %d", p.WelcomeBonusMicro)
	}
	if p.Version != updatedAt.UnixMilli() {
		t.Fatalf("expected version %d, got %d", updatedAt.UnixMilli(), p.Version)
	}
}

func TestPutPersistsAndRefreshes(t *testing.T) {
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	defer StoreSnapshot(time.Time{}, nil)

	ctx := context.Background()
	if errPut := Put(ctx, conn, MarginPPMKey, 60_000); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	if errPut := Put(ctx, conn, MarginPPMKey, 65_000); errPut != nil {
		t.Fatalf("put again: %v", errPut)
	}

	p := CurrentPolicy(DefaultPolicy())
	if p.MarginPPM != 65_000 {
		t.Fatalf("expected margin 65000, got %d", p.MarginPPM)
	}
	if p.Version == 0 {
		t.Fatalf("expected non-zero policy version after put")
	}
}

func TestInt64ValueReadsParsedSnapshot(t *testing.T) {
	StoreSnapshot(time.Now(), map[string]json.RawMessage{
		PaymentPayloadRetentionDaysKey: json.RawMessage(`"30"`),
		" NOTE ":                       json.RawMessage(`"not a number"`),
	})
	defer StoreSnapshot(time.Time{}, nil)

	if days, ok := Int64Value(PaymentPayloadRetentionDaysKey); !ok || days != 30 {
		t.Fatalf("expected 30 days, got %d ok=%v", days, ok)
	}
	if _, ok := Int64Value("NOTE"); ok {
		t.Fatalf("non-integer values must be dropped")
	}
	if _, ok := Int64Value(MarginPPMKey); ok {
		t.Fatalf("missing key must not resolve")
	}
}

package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/pricing"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	"gorm.io/gorm"
)

type fixture struct {
	conn     *gorm.DB
	ledger   *wallet.Ledger
	registry *pricing.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return fixture{conn: conn, ledger: wallet.NewLedger(conn), registry: pricing.NewRegistry(conn)}
}

func (f fixture) seedRate(t *testing.T) {
	t.Helper()
	if _, err := f.registry.Refresh(context.Background(), []pricing.Entry{{
		ModelID: "gpt-x", Provider: "openai", InputPerMillion: 2_000_000, OutputPerMillion: 4_000_000,
	}}); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
}

func (f fixture) fund(t *testing.T, userID uint64, amount int64) {
	t.Helper()
	if _, err := f.ledger.Provision(context.Background(), wallet.ProvisionInput{UserID: userID}, 0); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if amount > 0 {
		if _, err := f.ledger.Credit(context.Background(), userID, amount, models.CreditSourcePurchase, "seed"); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
}

func TestRecordDebitsMeteredCost(t *testing.T) {
	f := newFixture(t)
	f.seedRate(t)
	f.fund(t, 1, 10_000_000)

	recorder := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateFree)
	result, err := recorder.Record(context.Background(), Report{
		RequestID: "req-1", UserID: 1, ToolSlug: "blog-writer", ModelID: "gpt-x",
		PromptTokens: 1_000_000, CompletionTokens: 500_000,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.Event.UsdMicroCost != 4_000_000 || result.Event.UsdMicroMargin != 200_000 {
		t.Fatalf("unexpected cost %+v", result.Event)
	}
	if result.Event.Status != models.UsageEventStatusPrepaid || result.Event.RateVersion == 0 || result.Event.Provider != "openai" {
		t.Fatalf("unexpected event %+v", result.Event)
	}
	if result.Transaction == nil || result.Transaction.AmountMicro != -4_200_000 {
		t.Fatalf("unexpected transaction %+v", result.Transaction)
	}
	if result.Limits != nil {
		t.Fatalf("funded usage must not touch the free quota")
	}

	summary, err := f.ledger.Summary(context.Background(), 1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.BalanceMicro != 5_800_000 {
		t.Fatalf("expected balance 5800000, got %d", summary.BalanceMicro)
	}
}

func TestRecordDropsRepeatedRequestID(t *testing.T) {
	f := newFixture(t)
	f.seedRate(t)
	f.fund(t, 2, 10_000_000)
	recorder := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateFree)
	report := Report{RequestID: "req-dup", UserID: 2, ModelID: "gpt-x", PromptTokens: 1_000}

	first, err := recorder.Record(context.Background(), report)
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	second, err := recorder.Record(context.Background(), report)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if !second.Duplicate || second.Event.ID != first.Event.ID {
		t.Fatalf("expected duplicate of event %d, got %+v", first.Event.ID, second)
	}

	var events int64
	if errCount := f.conn.Model(&models.UsageEvent{}).Where("user_id = ?", 2).Count(&events).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if events != 1 {
		t.Fatalf("expected one event, got %d", events)
	}
	balance, sum, err := f.ledger.Reconcile(context.Background(), 2)
	if err != nil || balance != sum || balance != 10_000_000-first.Event.TotalMicro() {
		t.Fatalf("unexpected balance=%d sum=%d err=%v", balance, sum, err)
	}
}

func TestRecordRequestIDRaceReturnsStoredEvent(t *testing.T) {
	f := newFixture(t)
	f.seedRate(t)
	f.fund(t, 5, 10_000_000)
	recorder := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateFree)
	report := Report{RequestID: "req-race", UserID: 5, ModelID: "gpt-x", PromptTokens: 1_000}

	first, err := recorder.Record(context.Background(), report)
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	// The second report misses the lookup, as if both were in flight at once, and collides on insert.
	recorder.findRequest = func(*gorm.DB, string) ([]models.UsageEvent, error) { return nil, nil }
	second, err := recorder.Record(context.Background(), report)
	if err != nil {
		t.Fatalf("colliding record: %v", err)
	}
	if !second.Duplicate || second.Event.ID != first.Event.ID {
		t.Fatalf("expected stored event %d as duplicate, got %+v", first.Event.ID, second)
	}
	balance, sum, err := f.ledger.Reconcile(context.Background(), 5)
	if err != nil || balance != sum || balance != 10_000_000-first.Event.TotalMicro() {
		t.Fatalf("expected a single debit, got balance=%d sum=%d err=%v", balance, sum, err)
	}
}

func TestRecordMissingRatePolicies(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 3, 1_000_000)
	ctx := context.Background()
	report := Report{UserID: 3, ModelID: "unpriced", PromptTokens: 10_000, CompletionTokens: 10_000}

	rejecting := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateReject)
	if _, err := rejecting.Record(ctx, report); !errors.Is(err, pricing.ErrRateMissing) {
		t.Fatalf("expected ErrRateMissing, got %v", err)
	}
	var events int64
	if errCount := f.conn.Model(&models.UsageEvent{}).Count(&events).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if events != 0 {
		t.Fatalf("rejected report must not persist anything, got %d events", events)
	}

	free := NewRecorder(f.ledger, settings.DefaultPolicy, "")
	result, err := free.Record(ctx, report)
	if err != nil {
		t.Fatalf("free record: %v", err)
	}
	if result.Event.TotalMicro() != 0 || result.Event.RateID != nil || result.Transaction != nil {
		t.Fatalf("expected free unpriced event, got %+v tx=%+v", result.Event, result.Transaction)
	}
}

func TestRecordUnfundedAdvancesQuota(t *testing.T) {
	f := newFixture(t)
	f.seedRate(t)
	f.fund(t, 4, 0)
	recorder := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateFree)

	result, err := recorder.Record(context.Background(), Report{UserID: 4, ModelID: "gpt-x", PromptTokens: 100_000})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.Event.Status != models.UsageEventStatusUnfunded {
		t.Fatalf("expected unfunded status, got %s", result.Event.Status)
	}
	if result.Limits == nil || result.Limits.FreeModeUsedTodayUsdMicro != result.Event.TotalMicro() {
		t.Fatalf("expected quota advanced by %d, got %+v", result.Event.TotalMicro(), result.Limits)
	}
	if result.Limits.FreeModeDailyUsdMicroQuota != settings.DefaultFreeDailyQuotaMicro {
		t.Fatalf("expected default quota, got %d", result.Limits.FreeModeDailyUsdMicroQuota)
	}
}

func TestRecordCrossingZeroAdvancesQuotaByUncoveredPart(t *testing.T) {
	f := newFixture(t)
	f.seedRate(t)
	f.fund(t, 6, 1)
	recorder := NewRecorder(f.ledger, settings.DefaultPolicy, config.MissingRateFree)

	result, err := recorder.Record(context.Background(), Report{
		UserID: 6, ModelID: "gpt-x", PromptTokens: 1_000_000, CompletionTokens: 500_000,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if result.Event.Status != models.UsageEventStatusPrepaid {
		t.Fatalf("expected prepaid status, got %s", result.Event.Status)
	}
	if result.Event.TotalMicro() != 4_200_000 || result.Event.UnfundedMicro != 4_199_999 {
		t.Fatalf("expected 4199999 of 4200000 uncovered, got %+v", result.Event)
	}
	if result.Limits == nil || result.Limits.FreeModeUsedTodayUsdMicro != 4_199_999 {
		t.Fatalf("expected quota advanced by the uncovered part, got %+v", result.Limits)
	}
	summary, err := f.ledger.Summary(context.Background(), 6)
	if err != nil || summary == nil || summary.BalanceMicro != -4_199_999 {
		t.Fatalf("expected balance -4199999, got %+v err=%v", summary, err)
	}
}

func TestRecordValidatesReport(t *testing.T) {
	f := newFixture(t)
	recorder := NewRecorder(f.ledger, nil, "")
	if _, err := recorder.Record(context.Background(), Report{ModelID: "gpt-x"}); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if _, err := recorder.Record(context.Background(), Report{UserID: 1, ModelID: "gpt-x", PromptTokens: -1}); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("expected ErrInvalidReport, got %v", err)
	}
}

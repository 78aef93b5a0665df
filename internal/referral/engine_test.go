package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) (*Engine, *wallet.Ledger, *gorm.DB) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	ledger := wallet.NewLedger(conn)
	return NewEngine(ledger, settings.DefaultPolicy), ledger, conn
}

func provision(t *testing.T, ledger *wallet.Ledger, userIDs ...uint64) {
	t.Helper()
	for _, id := range userIDs {
		if _, err := ledger.Provision(context.Background(), wallet.ProvisionInput{UserID: id}, 0); err != nil {
			t.Fatalf("provision %d: %v", id, err)
		}
	}
}

func balance(t *testing.T, ledger *wallet.Ledger, userID uint64) int64 {
	t.Helper()
	bal, sum, err := ledger.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if bal != sum {
		t.Fatalf("user %d balance %d does not match transaction sum %d", userID, bal, sum)
	}
	return bal
}

func TestGenerateCodeIsStablePerOwner(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	provision(t, ledger, 1)
	ctx := context.Background()

	first, err := engine.GenerateCode(ctx, 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first) != 8 {
		t.Fatalf("expected 8 character code, got %q", first)
	}
	second, err := engine.GenerateCode(ctx, 1)
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable code, got %q then %q", first, second)
	}
	if _, err := engine.GenerateCode(ctx, 404); !errors.Is(err, wallet.ErrWalletMissing) {
		t.Fatalf("expected ErrWalletMissing, got %v", err)
	}
}

func TestGenerateCodeRetriesCollisions(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	provision(t, ledger, 1, 2)
	ctx := context.Background()

	candidates := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	engine.SetCodeGenerator(func() (string, error) {
		next := candidates[0]
		candidates = candidates[1:]
		return next, nil
	})
	if code, err := engine.GenerateCode(ctx, 1); err != nil || code != "AAAAAAAA" {
		t.Fatalf("expected AAAAAAAA, got %q err=%v", code, err)
	}
	if code, err := engine.GenerateCode(ctx, 2); err != nil || code != "BBBBBBBB" {
		t.Fatalf("expected BBBBBBBB after collision, got %q err=%v", code, err)
	}
}

func TestApplyCodeRules(t *testing.T) {
	engine, ledger, conn := newTestEngine(t)
	provision(t, ledger, 1, 2, 3)
	ctx := context.Background()

	code, err := engine.GenerateCode(ctx, 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := engine.ApplyCode(ctx, 1, code); !errors.Is(err, ErrCannotReferSelf) {
		t.Fatalf("expected ErrCannotReferSelf, got %v", err)
	}
	if err := engine.ApplyCode(ctx, 2, "NOPE2345"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := engine.ApplyCode(ctx, 2, " "+code+" "); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := engine.ApplyCode(ctx, 2, code); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if err := engine.ApplyCode(ctx, 3, code); err != nil {
		t.Fatalf("apply second referee: %v", err)
	}

	var ref models.Referral
	if errFind := conn.Where("code = ?", code).First(&ref).Error; errFind != nil {
		t.Fatalf("load referral: %v", errFind)
	}
	if ref.UsesCount != 2 {
		t.Fatalf("expected uses_count 2, got %d", ref.UsesCount)
	}
	var user models.User
	if errFind := conn.First(&user, 2).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	if user.ReferredByCode != code {
		t.Fatalf("expected referred_by_code %q, got %q", code, user.ReferredByCode)
	}
}

func TestQualifyingPaymentAwardsBothSidesOnce(t *testing.T) {
	engine, ledger, conn := newTestEngine(t)
	provision(t, ledger, 1, 2)
	ctx := context.Background()

	code, err := engine.GenerateCode(ctx, 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := engine.ApplyCode(ctx, 2, code); err != nil {
		t.Fatalf("apply: %v", err)
	}

	result, err := engine.OnQualifyingPayment(ctx, 2, 25_000_000, "evt_1")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if result.Outcome != OutcomeAwarded {
		t.Fatalf("expected award, got %s", result.Outcome)
	}
	if got := balance(t, ledger, 2); got != 35_000_000 {
		t.Fatalf("expected referee balance 35000000, got %d", got)
	}
	if got := balance(t, ledger, 1); got != 10_000_000 {
		t.Fatalf("expected owner balance 10000000, got %d", got)
	}

	var grants []models.Grant
	if errFind := conn.Order("id asc").Find(&grants).Error; errFind != nil {
		t.Fatalf("load grants: %v", errFind)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	if grants[0].UserID != 2 || grants[0].Type != models.GrantTypeReferralSelf {
		t.Fatalf("unexpected referee grant %+v", grants[0])
	}
	if grants[1].UserID != 1 || grants[1].Type != models.GrantTypeReferralFriend {
		t.Fatalf("unexpected owner grant %+v", grants[1])
	}

	// A later purchase by the same referee does not pay again.
	again, err := engine.OnQualifyingPayment(ctx, 2, 30_000_000, "evt_2")
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if again.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %s", again.Outcome)
	}
	if got := balance(t, ledger, 1); got != 10_000_000 {
		t.Fatalf("owner balance moved on second purchase: %d", got)
	}
	var grantCount int64
	conn.Model(&models.Grant{}).Count(&grantCount)
	if grantCount != 2 {
		t.Fatalf("expected grants to stay at 2, got %d", grantCount)
	}
}

func TestQualifyingPaymentBelowThreshold(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	provision(t, ledger, 1, 2)
	ctx := context.Background()

	code, _ := engine.GenerateCode(ctx, 1)
	if err := engine.ApplyCode(ctx, 2, code); err != nil {
		t.Fatalf("apply: %v", err)
	}
	result, err := engine.OnQualifyingPayment(ctx, 2, 5_000_000, "evt_small")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if result.Outcome != OutcomeBelowMinimum {
		t.Fatalf("expected below threshold, got %s", result.Outcome)
	}
	if got := balance(t, ledger, 2); got != 5_000_000 {
		t.Fatalf("expected 5000000, got %d", got)
	}
	if got := balance(t, ledger, 1); got != 0 {
		t.Fatalf("owner should not be credited, got %d", got)
	}
}

func TestQualifyingPaymentWithoutReferral(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	provision(t, ledger, 7)

	result, err := engine.OnQualifyingPayment(context.Background(), 7, 25_000_000, "evt_plain")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if result.Outcome != OutcomeNotReferred || result.Purchase == nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := engine.OnQualifyingPayment(context.Background(), 8, 1_000, "evt_nowallet"); !errors.Is(err, wallet.ErrWalletMissing) {
		t.Fatalf("expected ErrWalletMissing, got %v", err)
	}
}

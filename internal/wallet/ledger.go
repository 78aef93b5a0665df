// Package wallet maintains per-user prepaid balances and the append-only transactions behind them.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrWalletMissing is returned when a credit targets a user without a wallet.
	ErrWalletMissing = errors.New("wallet: wallet missing")
	// ErrInvalidAmount is returned for non-positive credits or negative usage.
	ErrInvalidAmount = errors.New("wallet: invalid amount")
	// ErrInvalidSource is returned for unknown or misused transaction sources.
	ErrInvalidSource = errors.New("wallet: invalid source")
	// ErrConcurrentUpdate is returned when the wallet version changed under a write.
	ErrConcurrentUpdate = errors.New("wallet: concurrent update")
)

const defaultMaxAttempts = 5

// Ledger performs balance changes. Each change is paired with exactly one CreditTransaction row
// and is written with a compare-and-swap on the wallet version.
type Ledger struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

// NewLedger constructs a Ledger over the given database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{
		db:          db,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	if l != nil && now != nil {
		l.now = now
	}
}

// Now returns the ledger clock reading in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// DB returns the underlying connection.
func (l *Ledger) DB() *gorm.DB {
	return l.db
}

// InTx runs fn in a transaction and retries the whole unit when a wallet version conflict aborts it.
func (l *Ledger) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if l == nil || l.db == nil {
		return errors.New("wallet: ledger not initialized")
	}
	attempts := l.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var errTx error
	for attempt := 1; attempt <= attempts; attempt++ {
		errTx = l.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(errTx, ErrConcurrentUpdate) {
			return errTx
		}
		metrics.RecordWalletConflict()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debugf("wallet: version conflict, retrying (attempt=%d)", attempt)
	}
	return errTx
}

// FindWalletTx returns the wallet of userID, or nil when the user has none.
func FindWalletTx(tx *gorm.DB, userID uint64) (*models.Wallet, error) {
	var wallets []models.Wallet
	if errFind := db.ForUpdate(tx).Where("user_id = ?", userID).Limit(1).Find(&wallets).Error; errFind != nil {
		return nil, fmt.Errorf("wallet: load wallet: %w", errFind)
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return &wallets[0], nil
}

// applyTx moves the balance by amount and appends the matching transaction.
// The update only lands if the wallet still carries the version that was read.
func (l *Ledger) applyTx(tx *gorm.DB, w *models.Wallet, amount int64, source models.CreditSource, refID string) (*models.CreditTransaction, error) {
	now := l.Now()
	res := tx.Model(&models.Wallet{}).
		Where("user_id = ? AND version = ?", w.UserID, w.Version).
		Updates(map[string]any{
			"balance_micro": gorm.Expr("balance_micro + ?", amount),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("wallet: update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}
	w.BalanceMicro += amount
	w.Version++
	w.UpdatedAt = now

	entry := models.CreditTransaction{
		UserID:      w.UserID,
		AmountMicro: amount,
		Source:      source,
		RefID:       strings.TrimSpace(refID),
		CreatedAt:   now,
	}
	if errCreate := tx.Create(&entry).Error; errCreate != nil {
		return nil, fmt.Errorf("wallet: append transaction: %w", errCreate)
	}
	return &entry, nil
}

// Credit adds a non-usage amount to a wallet.
func (l *Ledger) Credit(ctx context.Context, userID uint64, amountMicro int64, source models.CreditSource, refID string) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	errTx := l.InTx(ctx, func(tx *gorm.DB) error {
		created, errCredit := l.CreditTx(tx, userID, amountMicro, source, refID)
		entry = created
		return errCredit
	})
	if errTx != nil {
		return nil, errTx
	}
	metrics.RecordCredit(string(source))
	return entry, nil
}

// CreditTx is Credit inside a caller-owned transaction. Callers should run it under InTx so version conflicts retry.
func (l *Ledger) CreditTx(tx *gorm.DB, userID uint64, amountMicro int64, source models.CreditSource, refID string) (*models.CreditTransaction, error) {
	if amountMicro <= 0 {
		return nil, ErrInvalidAmount
	}
	if !source.Valid() || source == models.CreditSourceUsage {
		return nil, ErrInvalidSource
	}
	w, errWallet := FindWalletTx(tx, userID)
	if errWallet != nil {
		return nil, errWallet
	}
	if w == nil {
		return nil, ErrWalletMissing
	}
	return l.applyTx(tx, w, amountMicro, source, refID)
}

// Debit records a usage event and, when the user has a wallet, debits its total and appends a usage transaction
// referencing the event. Without a wallet the event is stored as unbilled and no balance moves.
func (l *Ledger) Debit(ctx context.Context, event *models.UsageEvent) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	errTx := l.InTx(ctx, func(tx *gorm.DB) error {
		eventCopy := *event
		created, errDebit := l.DebitTx(tx, &eventCopy)
		if errDebit != nil {
			return errDebit
		}
		*event = eventCopy
		entry = created
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	metrics.RecordUsage(string(event.Status), event.TotalMicro())
	return entry, nil
}

// DebitTx is Debit inside a caller-owned transaction. It sets event.ID, event.Status and event.UnfundedMicro,
// the part of the total that took the balance to or below zero.
// The returned transaction is nil when the user has no wallet.
func (l *Ledger) DebitTx(tx *gorm.DB, event *models.UsageEvent) (*models.CreditTransaction, error) {
	if event == nil {
		return nil, errors.New("wallet: nil usage event")
	}
	if event.UsdMicroCost < 0 || event.UsdMicroMargin < 0 {
		return nil, ErrInvalidAmount
	}
	w, errWallet := FindWalletTx(tx, event.UserID)
	if errWallet != nil {
		return nil, errWallet
	}

	total := event.TotalMicro()
	switch {
	case w == nil:
		event.Status = models.UsageEventStatusUnbilled
		event.UnfundedMicro = total
	case w.BalanceMicro > 0:
		event.Status = models.UsageEventStatusPrepaid
		event.UnfundedMicro = max(0, total-w.BalanceMicro)
	default:
		event.Status = models.UsageEventStatusUnfunded
		event.UnfundedMicro = total
	}
	event.ID = 0
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.Now()
	}
	if errCreate := tx.Create(event).Error; errCreate != nil {
		return nil, fmt.Errorf("wallet: record usage event: %w", errCreate)
	}

	if w == nil || total == 0 {
		return nil, nil
	}
	return l.applyTx(tx, w, -total, models.CreditSourceUsage, strconv.FormatUint(event.ID, 10))
}

package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProvisionInput identifies the user to provision.
type ProvisionInput struct {
	UserID uint64
	Email  string
	Name   string
}

// ProvisionResult reports the wallet and whether this call created it.
type ProvisionResult struct {
	Wallet  *models.Wallet
	Created bool
}

// Provision creates the user row and its zero-balance wallet together. A positive welcomeBonusMicro is
// credited to a newly created wallet with a welcome grant. Provisioning an existing wallet is a no-op.
func (l *Ledger) Provision(ctx context.Context, in ProvisionInput, welcomeBonusMicro int64) (*ProvisionResult, error) {
	if in.UserID == 0 {
		return nil, errors.New("wallet: user id is required")
	}
	var result ProvisionResult
	errTx := l.InTx(ctx, func(tx *gorm.DB) error {
		result = ProvisionResult{}
		now := l.Now()
		user := models.User{
			ID:        in.UserID,
			Email:     strings.TrimSpace(in.Email),
			Name:      strings.TrimSpace(in.Name),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errUser := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&user).Error; errUser != nil {
			return fmt.Errorf("wallet: create user: %w", errUser)
		}

		w := models.Wallet{UserID: in.UserID, CreatedAt: now, UpdatedAt: now}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&w)
		if res.Error != nil {
			return fmt.Errorf("wallet: create wallet: %w", res.Error)
		}
		result.Created = res.RowsAffected > 0

		if result.Created && welcomeBonusMicro > 0 {
			ref := "welcome:" + strconv.FormatUint(in.UserID, 10)
			if _, errCredit := l.CreditTx(tx, in.UserID, welcomeBonusMicro, models.CreditSourceWelcome, ref); errCredit != nil {
				return errCredit
			}
			grant := models.Grant{
				UserID:    in.UserID,
				Type:      models.GrantTypeWelcome,
				UsdMicro:  welcomeBonusMicro,
				RefID:     ref,
				CreatedAt: now,
			}
			if errGrant := tx.Create(&grant).Error; errGrant != nil {
				return fmt.Errorf("wallet: record welcome grant: %w", errGrant)
			}
		}

		var stored models.Wallet
		if errFind := tx.Where("user_id = ?", in.UserID).First(&stored).Error; errFind != nil {
			return fmt.Errorf("wallet: reload wallet: %w", errFind)
		}
		result.Wallet = &stored
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	if result.Created && welcomeBonusMicro > 0 {
		metrics.RecordCredit(string(models.CreditSourceWelcome))
	}
	return &result, nil
}

// Summary is the balance view returned to the owner.
type Summary struct {
	BalanceMicro int64     `json:"balance_micro"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary returns the wallet summary, or nil when the user has no wallet.
func (l *Ledger) Summary(ctx context.Context, userID uint64) (*Summary, error) {
	var wallets []models.Wallet
	if errFind := l.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&wallets).Error; errFind != nil {
		return nil, fmt.Errorf("wallet: load wallet: %w", errFind)
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return &Summary{BalanceMicro: wallets[0].BalanceMicro, UpdatedAt: wallets[0].UpdatedAt}, nil
}

// CreditProgress reports how much was spent since the last payment.
type CreditProgress struct {
	BalanceMicro              int64      `json:"balance_micro"`
	LastPaymentAt             *time.Time `json:"last_payment_at"`
	UsedSinceLastPaymentMicro int64      `json:"used_since_last_payment_micro"`
}

const progressPageSize = 200

// CreditProgress walks transactions newest first back to the latest purchase or postpaid entry and sums the usage
// after it. It returns nil when the user has no wallet.
func (l *Ledger) CreditProgress(ctx context.Context, userID uint64) (*CreditProgress, error) {
	summary, errSummary := l.Summary(ctx, userID)
	if errSummary != nil || summary == nil {
		return nil, errSummary
	}
	progress := &CreditProgress{BalanceMicro: summary.BalanceMicro}

	var cursor uint64
	for {
		q := l.db.WithContext(ctx).Where("user_id = ?", userID)
		if cursor > 0 {
			q = q.Where("id < ?", cursor)
		}
		var page []models.CreditTransaction
		if errFind := q.Order("id DESC").Limit(progressPageSize).Find(&page).Error; errFind != nil {
			return nil, fmt.Errorf("wallet: load transactions: %w", errFind)
		}
		for _, entry := range page {
			switch entry.Source {
			case models.CreditSourcePurchase, models.CreditSourcePostpaid:
				paidAt := entry.CreatedAt
				progress.LastPaymentAt = &paidAt
				return progress, nil
			case models.CreditSourceUsage:
				progress.UsedSinceLastPaymentMicro -= entry.AmountMicro
			}
		}
		if len(page) < progressPageSize {
			return progress, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// TransactionPage is one page of transaction history.
type TransactionPage struct {
	Items []models.CreditTransaction `json:"items"`
	Total int64                      `json:"total"`
	Page  int                        `json:"page"`
	Limit int                        `json:"limit"`
}

// ListTransactions returns the user's transactions newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID uint64, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	out := &TransactionPage{Page: page, Limit: limit, Items: []models.CreditTransaction{}}
	base := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", userID)
	if errCount := base.Count(&out.Total).Error; errCount != nil {
		return nil, fmt.Errorf("wallet: count transactions: %w", errCount)
	}
	if errFind := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&out.Items).Error; errFind != nil {
		return nil, fmt.Errorf("wallet: list transactions: %w", errFind)
	}
	return out, nil
}

// Reconcile compares the stored balance with the transaction sum.
func (l *Ledger) Reconcile(ctx context.Context, userID uint64) (balance int64, sum int64, err error) {
	var w models.Wallet
	if errFind := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, 0, ErrWalletMissing
		}
		return 0, 0, fmt.Errorf("wallet: load wallet: %w", errFind)
	}
	if errSum := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_micro), 0)").
		Scan(&sum).Error; errSum != nil {
		return 0, 0, fmt.Errorf("wallet: sum transactions: %w", errSum)
	}
	return w.BalanceMicro, sum, nil
}

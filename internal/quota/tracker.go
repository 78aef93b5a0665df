// Package quota enforces the free-tier daily allowance of users without a funded wallet.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const millisPerDay = 86_400_000

// EpochDay returns floor(unixMillis / 86_400_000) for t.
func EpochDay(t time.Time) int64 {
	ms := t.UnixMilli()
	day := ms / millisPerDay
	if ms < 0 && ms%millisPerDay != 0 {
		day--
	}
	return day
}

// Tiers names the models offered at each access level.
type Tiers struct {
	Free          string
	Unprovisioned string
	Whitelist     []string
}

// LimitsSummary describes a user's free-tier position for today.
type LimitsSummary struct {
	IsLimited       bool  `json:"is_limited"`
	DailyQuotaMicro int64 `json:"daily_quota_micro"`
	UsedTodayMicro  int64 `json:"used_today_micro"`
}

// Tracker answers which models a user may call and accounts free-tier usage.
type Tracker struct {
	db           *gorm.DB
	tiers        Tiers
	defaultQuota func() int64
	now          func() time.Time
}

// NewTracker constructs a Tracker. defaultQuota supplies the allowance for users without a limits row.
func NewTracker(db *gorm.DB, tiers Tiers, defaultQuota func() int64) *Tracker {
	if defaultQuota == nil {
		defaultQuota = func() int64 { return 500_000 }
	}
	return &Tracker{
		db:           db,
		tiers:        tiers,
		defaultQuota: defaultQuota,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	if t != nil && now != nil {
		t.now = now
	}
}

// AllowedModels returns the models userID may call. A zero userID means no authenticated user.
// The result is empty when a user on an exhausted wallet has spent the daily allowance.
func (t *Tracker) AllowedModels(ctx context.Context, userID uint64) ([]string, error) {
	if t == nil || t.db == nil {
		return nil, errors.New("quota: tracker not initialized")
	}
	if userID == 0 {
		return single(t.tiers.Free), nil
	}

	wallet, errWallet := t.loadWallet(ctx, userID)
	if errWallet != nil {
		return nil, errWallet
	}
	if wallet == nil {
		return single(t.tiers.Unprovisioned), nil
	}
	if wallet.BalanceMicro > 0 {
		out := make([]string, 0, len(t.tiers.Whitelist))
		for _, modelID := range t.tiers.Whitelist {
			if trimmed := strings.TrimSpace(modelID); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	}

	quota, used, errUsage := t.usageToday(ctx, userID)
	if errUsage != nil {
		return nil, errUsage
	}
	if used >= quota {
		return []string{}, nil
	}
	return single(t.tiers.Free), nil
}

// Summary returns the limits summary, or nil when the user has no wallet.
func (t *Tracker) Summary(ctx context.Context, userID uint64) (*LimitsSummary, error) {
	if t == nil || t.db == nil {
		return nil, errors.New("quota: tracker not initialized")
	}
	wallet, errWallet := t.loadWallet(ctx, userID)
	if errWallet != nil {
		return nil, errWallet
	}
	if wallet == nil {
		return nil, nil
	}
	quota, used, errUsage := t.usageToday(ctx, userID)
	if errUsage != nil {
		return nil, errUsage
	}
	return &LimitsSummary{
		IsLimited:       wallet.BalanceMicro <= 0 && used >= quota,
		DailyQuotaMicro: quota,
		UsedTodayMicro:  used,
	}, nil
}

func (t *Tracker) loadWallet(ctx context.Context, userID uint64) (*models.Wallet, error) {
	var wallets []models.Wallet
	if errFind := t.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&wallets).Error; errFind != nil {
		return nil, fmt.Errorf("quota: load wallet: %w", errFind)
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return &wallets[0], nil
}

// usageToday returns the effective quota and today's usage; a stale rollup day counts as zero.
func (t *Tracker) usageToday(ctx context.Context, userID uint64) (int64, int64, error) {
	var rows []models.Limits
	if errFind := t.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error; errFind != nil {
		return 0, 0, fmt.Errorf("quota: load limits: %w", errFind)
	}
	if len(rows) == 0 {
		return t.defaultQuota(), 0, nil
	}
	limits := rows[0]
	if limits.RollupDateEpochDay != EpochDay(t.now()) {
		return limits.FreeModeDailyUsdMicroQuota, 0, nil
	}
	return limits.FreeModeDailyUsdMicroQuota, limits.FreeModeUsedTodayUsdMicro, nil
}

// ApplyFreeUsageTx advances the daily counter inside tx. The limits row is created on first use.
// When the stored rollup day is not today the counter restarts at amountMicro.
func ApplyFreeUsageTx(tx *gorm.DB, userID uint64, amountMicro int64, now time.Time, defaultQuota int64) (*models.Limits, error) {
	if tx == nil {
		return nil, errors.New("quota: nil tx")
	}
	if amountMicro < 0 {
		return nil, fmt.Errorf("quota: negative usage %d", amountMicro)
	}
	today := EpochDay(now)

	seed := models.Limits{
		UserID:                     userID,
		FreeModeDailyUsdMicroQuota: defaultQuota,
		RollupDateEpochDay:         today,
	}
	if errSeed := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&seed).Error; errSeed != nil {
		return nil, fmt.Errorf("quota: seed limits: %w", errSeed)
	}

	var limits models.Limits
	if errFind := db.ForUpdate(tx).Where("user_id = ?", userID).First(&limits).Error; errFind != nil {
		return nil, fmt.Errorf("quota: lock limits: %w", errFind)
	}

	used := limits.FreeModeUsedTodayUsdMicro + amountMicro
	if limits.RollupDateEpochDay != today {
		used = amountMicro
	}
	if errUpdate := tx.Model(&models.Limits{}).Where("id = ?", limits.ID).Updates(map[string]any{
		"free_mode_used_today_usd_micro": used,
		"rollup_date_epoch_day":          today,
		"updated_at":                     now.UTC(),
	}).Error; errUpdate != nil {
		return nil, fmt.Errorf("quota: update limits: %w", errUpdate)
	}
	limits.FreeModeUsedTodayUsdMicro = used
	limits.RollupDateEpochDay = today
	return &limits, nil
}

func single(modelID string) []string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return []string{}
	}
	return []string{modelID}
}

// Package settlement closes postpaid billing windows for usage that no funded wallet covered.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultInterval     = time.Hour
	defaultTrailingDays = 30
	defaultDedupWindow  = 24 * time.Hour
	defaultLockTTL      = 10 * time.Minute
	runLockKey          = "settlement:run"
)

// ErrRunInProgress is returned when another replica holds the run lock.
var ErrRunInProgress = errors.New("settlement: run in progress")

// Locker is the distributed lock used to keep replicas from running concurrently.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Options tunes a Settler; zero values select defaults.
type Options struct {
	Interval     time.Duration
	TrailingDays int
	DedupWindow  time.Duration
	LockTTL      time.Duration
}

// Result summarizes one run.
type Result struct {
	Users   int `json:"users"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Settler runs the postpaid settlement batch.
type Settler struct {
	db       *gorm.DB
	locker   Locker
	interval time.Duration
	trailing time.Duration
	dedup    time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

// NewSettler constructs a Settler. locker may be nil.
func NewSettler(db *gorm.DB, locker Locker, opts Options) *Settler {
	if db == nil {
		return nil
	}
	s := &Settler{
		db:       db,
		locker:   locker,
		interval: opts.Interval,
		trailing: time.Duration(opts.TrailingDays) * 24 * time.Hour,
		dedup:    opts.DedupWindow,
		lockTTL:  opts.LockTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if opts.TrailingDays <= 0 {
		s.trailing = defaultTrailingDays * 24 * time.Hour
	}
	if s.dedup <= 0 {
		s.dedup = defaultDedupWindow
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s
}

// SetClock overrides the time source.
func (s *Settler) SetClock(now func() time.Time) {
	if s != nil && now != nil {
		s.now = now
	}
}

// Start launches the settlement loop in a background goroutine.
func (s *Settler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("settlement runner started (interval=%s)", s.interval)
}

func (s *Settler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, errRun := s.RunOnce(ctx); errRun != nil && !errors.Is(errRun, ErrRunInProgress) {
			log.WithError(errRun).Warn("settlement runner: run failed")
		}
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// RunOnce settles every user with usage in the trailing window. Each user is decided in its own transaction,
// so a failure for one user does not affect the others and an interrupted run can simply be repeated.
func (s *Settler) RunOnce(ctx context.Context) (*Result, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("settlement: settler not initialized")
	}

	if s.locker != nil {
		token, ok, errLock := s.locker.TryLock(ctx, runLockKey, s.lockTTL)
		if errLock != nil {
			metrics.RecordSettlementRun("failed")
			return nil, fmt.Errorf("settlement: acquire lock: %w", errLock)
		}
		if !ok {
			metrics.RecordSettlementRun("locked")
			return nil, ErrRunInProgress
		}
		defer func() {
			if errRelease := s.locker.Release(context.Background(), runLockKey, token); errRelease != nil {
				log.WithError(errRelease).Warn("settlement: release lock failed")
			}
		}()
	}

	now := s.now().UTC()
	trailingStart := now.Add(-s.trailing)

	var userIDs []uint64
	if errPluck := s.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Where("created_at >= ? AND created_at < ?", trailingStart, now).
		Where("unfunded_micro > 0").
		Distinct("user_id").Order("user_id ASC").
		Pluck("user_id", &userIDs).Error; errPluck != nil {
		metrics.RecordSettlementRun("failed")
		return nil, fmt.Errorf("settlement: list users: %w", errPluck)
	}

	result := &Result{Users: len(userIDs)}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			metrics.RecordSettlementRun("cancelled")
			return result, ctx.Err()
		}
		created, errSettle := s.settleUser(ctx, userID, now, trailingStart)
		switch {
		case errSettle != nil:
			result.Failed++
			log.WithError(errSettle).Warnf("settlement: settle user failed (user=%d)", userID)
		case created:
			result.Created++
			metrics.RecordPostpaidCycle()
		default:
			result.Skipped++
		}
	}

	metrics.RecordSettlementRun("ok")
	log.Infof("settlement: run finished users=%d created=%d skipped=%d failed=%d", result.Users, result.Created, result.Skipped, result.Failed)
	return result, nil
}

// settleUser creates at most one due cycle for the user covering [windowStart, now). Charges are the uncovered
// part of each event; the wallet was debited for all of it except on unbilled events.
func (s *Settler) settleUser(ctx context.Context, userID uint64, now, trailingStart time.Time) (bool, error) {
	created := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recent int64
		if errCount := tx.Model(&models.PostpaidCycle{}).
			Where("user_id = ? AND created_at >= ?", userID, now.Add(-s.dedup)).
			Count(&recent).Error; errCount != nil {
			return errCount
		}
		if recent > 0 {
			return nil
		}

		windowStart := trailingStart
		var last []models.PostpaidCycle
		if errFind := tx.Where("user_id = ?", userID).
			Order("window_end DESC").Limit(1).
			Find(&last).Error; errFind != nil {
			return errFind
		}
		if len(last) > 0 {
			windowStart = last[0].WindowEnd
		}
		if !windowStart.Before(now) {
			return nil
		}

		var sums struct {
			Total   int64
			Debited int64
		}
		if errSum := tx.Model(&models.UsageEvent{}).
			Select(
				"COALESCE(SUM(unfunded_micro), 0) AS total, "+
					"COALESCE(SUM(CASE WHEN status <> ? THEN unfunded_micro ELSE 0 END), 0) AS debited",
				models.UsageEventStatusUnbilled,
			).
			Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, windowStart, now).
			Where("unfunded_micro > 0").
			Scan(&sums).Error; errSum != nil {
			return errSum
		}
		if sums.Total <= 0 {
			return nil
		}

		cycle := models.PostpaidCycle{
			UserID:             userID,
			WindowStart:        windowStart,
			WindowEnd:          now,
			UsdMicroCharges:    sums.Total,
			WalletDebitedMicro: sums.Debited,
			Status:             models.PostpaidCycleStatusDue,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if errCreate := tx.Create(&cycle).Error; errCreate != nil {
			return errCreate
		}
		created = true
		return nil
	})
	if errTx != nil {
		return false, errTx
	}
	return created, nil
}

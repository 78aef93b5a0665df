package payment

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultRetentionInterval  = 6 * time.Hour
	defaultRetentionBatch     = 5000
	maxRetentionBatchesPerRun = 2000
)

// RetentionCleaner periodically clears raw webhook bodies older than the configured retention.
// Journal rows stay so ref id dedup keeps working.
type RetentionCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewRetentionCleaner(db *gorm.DB) *RetentionCleaner {
	if db == nil {
		return nil
	}
	return &RetentionCleaner{
		db:        db,
		interval:  defaultRetentionInterval,
		batchSize: defaultRetentionBatch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("payment payload retention cleaner started (interval=%s)", c.interval)
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
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

// CleanupOnce clears expired payloads and returns the number of rows touched.
func (c *RetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	if ctx == nil {
		ctx = context.Background()
	}

	retentionDays := int64(settings.DefaultPaymentPayloadRetentionDays)
	if parsed, ok := settings.Int64Value(settings.PaymentPayloadRetentionDaysKey); ok && parsed >= 0 {
		retentionDays = parsed
	}
	if retentionDays <= 0 {
		return 0
	}

	cutoff := c.now().AddDate(0, 0, -int(retentionDays))

	cleared := int64(0)
	for i := 0; i < maxRetentionBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := c.clearBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("payment retention cleaner: clear batch failed")
			break
		}
		if n <= 0 {
			break
		}
		cleared += n
	}

	if cleared > 0 {
		log.Infof("payment retention cleaner: cleared %d payloads (cutoff=%s retention_days=%d)", cleared, cutoff.Format(time.RFC3339), retentionDays)
	}
	return cleared
}

func (c *RetentionCleaner) clearBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = defaultRetentionBatch
	}

	// Bounded subquery keeps each statement short.
	res := c.db.WithContext(ctx).Exec(`
		UPDATE payment_events
		SET payload = NULL
		WHERE id IN (
			SELECT id FROM payment_events
			WHERE created_at < ? AND payload IS NOT NULL
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

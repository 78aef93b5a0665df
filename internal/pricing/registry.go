// Package pricing keeps the versioned per-model rate table.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/metering"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrRateMissing is returned when no rate row exists for a model.
	ErrRateMissing = errors.New("pricing: rate missing")
	// ErrFeedUnavailable is returned when the price feed cannot be fetched.
	ErrFeedUnavailable = errors.New("pricing: feed unavailable")
)

// Entry is one priced model as reported by the feed.
type Entry struct {
	ModelID          string `json:"model_id"`
	Provider         string `json:"provider"`
	InputPerMillion  int64  `json:"input_per_million"`
	OutputPerMillion int64  `json:"output_per_million"`
}

// Registry resolves and records model rates.
type Registry struct {
	db                 *gorm.DB
	deactivatePrevious bool
	now                func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithDeactivatePrevious makes every refresh clear is_active on the older rows of the refreshed models.
func WithDeactivatePrevious(enabled bool) Option {
	return func(r *Registry) { r.deactivatePrevious = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs a Registry over the given database.
func NewRegistry(db *gorm.DB, opts ...Option) *Registry {
	r := &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetActiveRate returns the authoritative rate for a model.
func (r *Registry) GetActiveRate(ctx context.Context, modelID string) (*models.ModelRate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pricing: registry not initialized")
	}
	return ActiveRate(r.db.WithContext(ctx), modelID)
}

// ActiveRate resolves the rate for a model on conn, which may be a transaction.
// The most recently created active row wins; without one, the most recent row of any state is used.
func ActiveRate(conn *gorm.DB, modelID string) (*models.ModelRate, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, ErrRateMissing
	}

	var rows []models.ModelRate
	if errFind := conn.
		Where("model_id = ? AND is_active = ?", modelID, true).
		Order("created_at DESC").Order("id DESC").
		Limit(1).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("pricing: load active rate: %w", errFind)
	}
	if len(rows) == 0 {
		if errFind := conn.
			Where("model_id = ?", modelID).
			Order("created_at DESC").Order("id DESC").
			Limit(1).
			Find(&rows).Error; errFind != nil {
			return nil, fmt.Errorf("pricing: load rate: %w", errFind)
		}
	}
	if len(rows) == 0 {
		return nil, ErrRateMissing
	}
	return &rows[0], nil
}

// MeterRate converts a stored rate into the meter input; nil yields a free rate.
func MeterRate(rate *models.ModelRate) metering.Rate {
	if rate == nil {
		return metering.Rate{}
	}
	return metering.Rate{InputPerMillion: rate.InputPerMillion, OutputPerMillion: rate.OutputPerMillion}
}

// Refresh inserts one new active row per entry, all stamped with the same version.
// Existing rows are kept; with deactivate-previous they are marked inactive in the same transaction.
// It returns the version used, or zero when nothing was inserted.
func (r *Registry) Refresh(ctx context.Context, entries []Entry) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("pricing: registry not initialized")
	}

	now := r.now().UTC()
	version := now.UnixMilli()
	rows := make([]models.ModelRate, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		modelID := strings.TrimSpace(entry.ModelID)
		if modelID == "" {
			continue
		}
		if entry.InputPerMillion < 0 || entry.OutputPerMillion < 0 {
			log.Warnf("pricing: skip negative rate for model=%s", modelID)
			continue
		}
		if _, dup := seen[modelID]; dup {
			continue
		}
		seen[modelID] = struct{}{}
		rows = append(rows, models.ModelRate{
			ModelID:          modelID,
			Provider:         strings.TrimSpace(entry.Provider),
			InputPerMillion:  entry.InputPerMillion,
			OutputPerMillion: entry.OutputPerMillion,
			Version:          version,
			EffectiveFrom:    now,
			IsActive:         true,
			CreatedAt:        now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.deactivatePrevious {
			modelIDs := make([]string, 0, len(rows))
			for _, row := range rows {
				modelIDs = append(modelIDs, row.ModelID)
			}
			if errUpdate := tx.Model(&models.ModelRate{}).
				Where("model_id IN ? AND is_active = ?", modelIDs, true).
				Update("is_active", false).Error; errUpdate != nil {
				return errUpdate
			}
		}
		return tx.CreateInBatches(&rows, 100).Error
	})
	if errTx != nil {
		return 0, fmt.Errorf("pricing: refresh: %w", errTx)
	}
	return version, nil
}

// List returns the authoritative rate of every known model, ordered by model id.
func (r *Registry) List(ctx context.Context) ([]models.ModelRate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pricing: registry not initialized")
	}
	var modelIDs []string
	if errPluck := r.db.WithContext(ctx).Model(&models.ModelRate{}).
		Distinct("model_id").Order("model_id ASC").
		Pluck("model_id", &modelIDs).Error; errPluck != nil {
		return nil, fmt.Errorf("pricing: list models: %w", errPluck)
	}
	out := make([]models.ModelRate, 0, len(modelIDs))
	for _, modelID := range modelIDs {
		rate, errRate := ActiveRate(r.db.WithContext(ctx), modelID)
		if errRate != nil {
			if errors.Is(errRate, ErrRateMissing) {
				continue
			}
			return nil, errRate
		}
		out = append(out, *rate)
	}
	return out, nil
}

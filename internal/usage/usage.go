// Package usage turns completed model calls into metered, debited usage events.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/metering"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/pricing"
	"github.com/router-for-me/CreditLedger/internal/quota"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrUserRequired is returned when a report carries no user.
	ErrUserRequired = errors.New("usage: user is required")
	// ErrInvalidReport is returned for reports with missing model or negative token counts.
	ErrInvalidReport = errors.New("usage: invalid report")
)

// Report describes one completed generation.
type Report struct {
	RequestID        string
	UserID           uint64
	ConversationID   string
	ToolSlug         string
	ModelID          string
	PromptTokens     int64
	CompletionTokens int64
}

// Result is the outcome of recording a report.
type Result struct {
	Event       models.UsageEvent
	Transaction *models.CreditTransaction
	Limits      *models.Limits
	// Duplicate is set when the request ID was already recorded; nothing new was written.
	Duplicate bool
}

// Recorder prices, debits and accounts a report in one transaction.
type Recorder struct {
	ledger      *wallet.Ledger
	policy      func() settings.Policy
	missingRate string
	findRequest func(tx *gorm.DB, requestID string) ([]models.UsageEvent, error)
}

// NewRecorder constructs a Recorder. policy is read once per report.
func NewRecorder(ledger *wallet.Ledger, policy func() settings.Policy, missingRatePolicy string) *Recorder {
	if policy == nil {
		policy = settings.DefaultPolicy
	}
	missingRatePolicy = strings.ToLower(strings.TrimSpace(missingRatePolicy))
	if missingRatePolicy == "" {
		missingRatePolicy = config.MissingRateFree
	}
	return &Recorder{ledger: ledger, policy: policy, missingRate: missingRatePolicy, findRequest: findByRequestID}
}

func findByRequestID(tx *gorm.DB, requestID string) ([]models.UsageEvent, error) {
	var existing []models.UsageEvent
	if errFind := tx.Where("request_id = ?", requestID).Limit(1).Find(&existing).Error; errFind != nil {
		return nil, fmt.Errorf("usage: lookup request: %w", errFind)
	}
	return existing, nil
}

// Record meters the report against the active rate, debits the wallet and advances the free-tier counter by
// whatever part of the cost the balance did not cover. All writes commit together or not at all.
func (r *Recorder) Record(ctx context.Context, report Report) (*Result, error) {
	if r == nil || r.ledger == nil {
		return nil, errors.New("usage: recorder not initialized")
	}
	if report.UserID == 0 {
		return nil, ErrUserRequired
	}
	modelID := strings.TrimSpace(report.ModelID)
	if modelID == "" || report.PromptTokens < 0 || report.CompletionTokens < 0 {
		return nil, ErrInvalidReport
	}
	requestID := strings.TrimSpace(report.RequestID)
	policy := r.policy()

	var result Result
	errTx := r.ledger.InTx(ctx, func(tx *gorm.DB) error {
		result = Result{}
		if requestID != "" {
			existing, errFind := r.findRequest(tx, requestID)
			if errFind != nil {
				return errFind
			}
			if len(existing) > 0 {
				result.Event = existing[0]
				result.Duplicate = true
				return nil
			}
		}

		rate, errRate := pricing.ActiveRate(tx, modelID)
		if errRate != nil {
			if !errors.Is(errRate, pricing.ErrRateMissing) || r.missingRate == config.MissingRateReject {
				return errRate
			}
			rate = nil
		}

		cost, errCost := metering.ComputeCostWithMargin(report.PromptTokens, report.CompletionTokens, pricing.MeterRate(rate), uint64(policy.MarginPPM))
		if errCost != nil {
			return errCost
		}

		event := models.UsageEvent{
			UserID:           report.UserID,
			ConversationID:   strings.TrimSpace(report.ConversationID),
			ToolSlug:         strings.TrimSpace(report.ToolSlug),
			ModelID:          modelID,
			PromptTokens:     report.PromptTokens,
			CompletionTokens: report.CompletionTokens,
			UsdMicroCost:     cost.BaseMicro,
			UsdMicroMargin:   cost.MarginMicro,
		}
		if requestID != "" {
			event.RequestID = &requestID
		}
		if rate != nil {
			rateID := rate.ID
			event.RateID = &rateID
			event.RateVersion = rate.Version
			event.Provider = rate.Provider
		}

		entry, errDebit := r.ledger.DebitTx(tx, &event)
		if errDebit != nil {
			return errDebit
		}
		result.Event = event
		result.Transaction = entry

		if event.UnfundedMicro > 0 {
			limits, errQuota := quota.ApplyFreeUsageTx(tx, report.UserID, event.UnfundedMicro, r.ledger.Now(), policy.FreeDailyQuotaMicro)
			if errQuota != nil {
				return errQuota
			}
			result.Limits = limits
		}
		return nil
	})
	if errTx != nil && requestID != "" && db.IsUniqueViolation(errTx) {
		// A concurrent report with the same request ID committed between the lookup and the insert.
		stored, errFind := findByRequestID(r.ledger.DB().WithContext(ctx), requestID)
		if errFind == nil && len(stored) > 0 {
			return &Result{Event: stored[0], Duplicate: true}, nil
		}
	}
	if errTx != nil {
		if !errors.Is(errTx, pricing.ErrRateMissing) {
			log.WithError(errTx).Warnf("usage: record failed (user=%d model=%s)", report.UserID, modelID)
		}
		return nil, errTx
	}
	if !result.Duplicate {
		metrics.RecordUsage(string(result.Event.Status), result.Event.TotalMicro())
	}
	return &result, nil
}

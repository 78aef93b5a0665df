// Package payment consumes payment-provider webhooks and turns them into ledger credits.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/referral"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidSignature is returned when a delivery is not signed with the shared secret.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrInvalidEvent is returned for malformed deliveries.
	ErrInvalidEvent = errors.New("payment: invalid event")
)

// Event types with ledger effects. Any other type is journaled and ignored.
const (
	EventCheckoutPaid        = "checkout.paid"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionRenewed = "subscription.renewed"
	EventPostpaidPaid        = "postpaid.paid"
)

// Outcomes reported for a processed delivery.
const (
	OutcomeCredited  = "credited"
	OutcomeSettled   = "settled"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Event is the webhook body.
type Event struct {
	RefID       string `json:"ref_id"`
	EventType   string `json:"event_type"`
	UserID      uint64 `json:"user_id"`
	AmountMicro int64  `json:"amount_micro"`
	CycleID     uint64 `json:"cycle_id,omitempty"`
}

// Qualifying reports whether the event is a purchase that funds the wallet.
func (e Event) Qualifying() bool {
	switch e.EventType {
	case EventCheckoutPaid, EventInvoicePaid, EventSubscriptionRenewed:
		return true
	default:
		return false
	}
}

// Result describes what a delivery did.
type Result struct {
	Outcome        string
	ReferralResult string
	Transaction    *models.CreditTransaction
	Cycle          *models.PostpaidCycle
}

// Processor applies payment webhooks to the ledger exactly once per ref id.
type Processor struct {
	ledger   *wallet.Ledger
	referral *referral.Engine
	secret   string
}

// NewProcessor constructs a Processor. An empty secret rejects every signed delivery.
func NewProcessor(ledger *wallet.Ledger, engine *referral.Engine, secret string) *Processor {
	return &Processor{ledger: ledger, referral: engine, secret: strings.TrimSpace(secret)}
}

// HandleWebhook verifies the signature of body and processes it.
func (p *Processor) HandleWebhook(ctx context.Context, body []byte, signature string) (*Result, error) {
	if p == nil || p.ledger == nil {
		return nil, errors.New("payment: processor not initialized")
	}
	if !security.VerifySignature(p.secret, body, signature) {
		metrics.RecordWebhook("invalid_signature")
		return nil, ErrInvalidSignature
	}
	var event Event
	if errDecode := json.Unmarshal(body, &event); errDecode != nil {
		metrics.RecordWebhook("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, errDecode)
	}
	return p.Process(ctx, event, body)
}

// Process journals the event and applies its ledger effect in one transaction.
// A ref id seen before makes the delivery a no-op.
func (p *Processor) Process(ctx context.Context, event Event, payload []byte) (*Result, error) {
	if p == nil || p.ledger == nil {
		return nil, errors.New("payment: processor not initialized")
	}
	event.RefID = strings.TrimSpace(event.RefID)
	event.EventType = strings.TrimSpace(event.EventType)
	if errValidate := validate(event); errValidate != nil {
		metrics.RecordWebhook("invalid")
		return nil, errValidate
	}

	var result *Result
	errTx := p.ledger.InTx(ctx, func(tx *gorm.DB) error {
		res, errApply := p.applyTx(tx, event, payload)
		result = res
		return errApply
	})
	if errTx != nil {
		metrics.RecordWebhook("failed")
		log.WithError(errTx).Warnf("payment: event %s (%s) failed", event.RefID, event.EventType)
		return nil, errTx
	}

	metrics.RecordWebhook(result.Outcome)
	switch result.Outcome {
	case OutcomeCredited:
		if p.referral != nil {
			p.referral.ReportOutcome(&referral.PaymentResult{Purchase: result.Transaction, Outcome: result.ReferralResult})
		} else {
			metrics.RecordCredit(string(models.CreditSourcePurchase))
		}
	case OutcomeSettled:
		if result.Transaction != nil {
			metrics.RecordCredit(string(models.CreditSourcePostpaid))
		}
	}
	log.Infof("payment: event %s (%s) user=%d outcome=%s", event.RefID, event.EventType, event.UserID, result.Outcome)
	return result, nil
}

func validate(event Event) error {
	if event.RefID == "" {
		return fmt.Errorf("%w: ref_id is required", ErrInvalidEvent)
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if event.UserID == 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	}
	if event.Qualifying() && event.AmountMicro <= 0 {
		return fmt.Errorf("%w: amount_micro must be positive", ErrInvalidEvent)
	}
	if event.EventType == EventPostpaidPaid && event.CycleID == 0 {
		return fmt.Errorf("%w: cycle_id is required", ErrInvalidEvent)
	}
	return nil
}

func (p *Processor) applyTx(tx *gorm.DB, event Event, payload []byte) (*Result, error) {
	row := models.PaymentEvent{
		RefID:       event.RefID,
		EventType:   event.EventType,
		UserID:      event.UserID,
		AmountMicro: event.AmountMicro,
		Qualifying:  event.Qualifying(),
		CreatedAt:   p.ledger.Now(),
	}
	if len(payload) > 0 && json.Valid(payload) {
		row.Payload = datatypes.JSON(payload)
	}
	res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ref_id"}}, DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("payment: journal event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	switch {
	case event.Qualifying():
		if p.referral == nil {
			entry, errCredit := p.ledger.CreditTx(tx, event.UserID, event.AmountMicro, models.CreditSourcePurchase, event.RefID)
			if errCredit != nil {
				return nil, errCredit
			}
			return &Result{Outcome: OutcomeCredited, Transaction: entry}, nil
		}
		paid, errPay := p.referral.OnQualifyingPaymentTx(tx, event.UserID, event.AmountMicro, event.RefID)
		if errPay != nil {
			return nil, errPay
		}
		return &Result{Outcome: OutcomeCredited, ReferralResult: paid.Outcome, Transaction: paid.Purchase}, nil
	case event.EventType == EventPostpaidPaid:
		return p.settleCycleTx(tx, event)
	default:
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

// settleCycleTx marks a due cycle paid and restores the part of it that was debited from the wallet.
func (p *Processor) settleCycleTx(tx *gorm.DB, event Event) (*Result, error) {
	var cycles []models.PostpaidCycle
	if errFind := tx.Where("id = ? AND user_id = ?", event.CycleID, event.UserID).Limit(1).Find(&cycles).Error; errFind != nil {
		return nil, fmt.Errorf("payment: load cycle: %w", errFind)
	}
	if len(cycles) == 0 {
		log.Warnf("payment: cycle %d of user %d not found", event.CycleID, event.UserID)
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	cycle := cycles[0]
	if cycle.Status == models.PostpaidCycleStatusPaid {
		return &Result{Outcome: OutcomeDuplicate, Cycle: &cycle}, nil
	}

	now := p.ledger.Now()
	res := tx.Model(&models.PostpaidCycle{}).
		Where("id = ? AND status = ?", cycle.ID, models.PostpaidCycleStatusDue).
		Updates(map[string]any{
			"status":      models.PostpaidCycleStatusPaid,
			"paid_ref_id": event.RefID,
			"paid_at":     now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("payment: mark cycle paid: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &Result{Outcome: OutcomeDuplicate, Cycle: &cycle}, nil
	}
	cycle.Status = models.PostpaidCycleStatusPaid
	cycle.PaidRefID = event.RefID
	cycle.PaidAt = &now

	result := &Result{Outcome: OutcomeSettled, Cycle: &cycle}
	if cycle.WalletDebitedMicro > 0 {
		entry, errCredit := p.ledger.CreditTx(tx, event.UserID, cycle.WalletDebitedMicro, models.CreditSourcePostpaid, event.RefID)
		if errCredit != nil {
			return nil, errCredit
		}
		result.Transaction = entry
	}
	return result, nil
}

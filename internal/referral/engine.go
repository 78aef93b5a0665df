// Package referral issues referral codes and awards the one-time bonus on a referred user's qualifying payment.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/wallet"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidCode is returned when a referral code does not exist.
	ErrInvalidCode = errors.New("referral: invalid code")
	// ErrCannotReferSelf is returned when a user applies their own code.
	ErrCannotReferSelf = errors.New("referral: cannot refer self")
	// ErrAlreadyApplied is returned when the user already applied a code.
	ErrAlreadyApplied = errors.New("referral: already applied")
)

const maxCodeAttempts = 5

// Award outcomes reported by OnQualifyingPaymentTx.
const (
	OutcomeAwarded       = "awarded"
	OutcomeNotReferred   = "not_referred"
	OutcomeBelowMinimum  = "below_threshold"
	OutcomeDuplicate     = "duplicate"
	OutcomeUnknownOwner  = "unknown_owner"
	OutcomeOwnerNoWallet = "owner_without_wallet"
)

// CodeGenerator produces candidate referral codes.
type CodeGenerator func() (string, error)

// Engine manages referral codes and bonuses.
type Engine struct {
	ledger   *wallet.Ledger
	policy   func() settings.Policy
	generate CodeGenerator
}

// NewEngine constructs an Engine. policy supplies the threshold and bonus amounts.
func NewEngine(ledger *wallet.Ledger, policy func() settings.Policy) *Engine {
	if policy == nil {
		policy = settings.DefaultPolicy
	}
	return &Engine{ledger: ledger, policy: policy, generate: security.GenerateReferralCode}
}

// SetCodeGenerator overrides the code source.
func (e *Engine) SetCodeGenerator(gen CodeGenerator) {
	if e != nil && gen != nil {
		e.generate = gen
	}
}

// NormalizeCode canonicalizes user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns the user's referral code, creating it on first request.
// A collision with another user's code retries with a fresh candidate.
func (e *Engine) GenerateCode(ctx context.Context, userID uint64) (string, error) {
	if e == nil || e.ledger == nil {
		return "", errors.New("referral: engine not initialized")
	}
	conn := e.ledger.DB().WithContext(ctx)

	var user []models.User
	if errFind := conn.Where("id = ?", userID).Limit(1).Find(&user).Error; errFind != nil {
		return "", fmt.Errorf("referral: load user: %w", errFind)
	}
	if len(user) == 0 {
		return "", wallet.ErrWalletMissing
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		existing, errExisting := ownedCode(conn, userID)
		if errExisting != nil {
			return "", errExisting
		}
		if existing != "" {
			return existing, nil
		}

		candidate, errGen := e.generate()
		if errGen != nil {
			return "", errGen
		}
		row := models.Referral{Code: NormalizeCode(candidate), OwnerUserID: userID}
		res := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return "", fmt.Errorf("referral: create code: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return row.Code, nil
		}
		log.Debugf("referral: code collision, retrying (user=%d attempt=%d)", userID, attempt+1)
	}
	return "", fmt.Errorf("referral: no unique code after %d attempts", maxCodeAttempts)
}

func ownedCode(conn *gorm.DB, userID uint64) (string, error) {
	var rows []models.Referral
	if errFind := conn.Where("owner_user_id = ?", userID).Limit(1).Find(&rows).Error; errFind != nil {
		return "", fmt.Errorf("referral: load code: %w", errFind)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Code, nil
}

// ApplyCode records that userID was referred by code. A user can apply at most one code, never their own.
func (e *Engine) ApplyCode(ctx context.Context, userID uint64, code string) error {
	if e == nil || e.ledger == nil {
		return errors.New("referral: engine not initialized")
	}
	code = NormalizeCode(code)
	if code == "" {
		return ErrInvalidCode
	}

	return e.ledger.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		if errFind := tx.Where("id = ?", userID).Limit(1).Find(&users).Error; errFind != nil {
			return fmt.Errorf("referral: load user: %w", errFind)
		}
		if len(users) == 0 {
			return wallet.ErrWalletMissing
		}

		var refs []models.Referral
		if errFind := tx.Where("code = ?", code).Limit(1).Find(&refs).Error; errFind != nil {
			return fmt.Errorf("referral: load code: %w", errFind)
		}
		if len(refs) == 0 {
			return ErrInvalidCode
		}
		if refs[0].OwnerUserID == userID {
			return ErrCannotReferSelf
		}
		if users[0].ReferredByCode != "" {
			return ErrAlreadyApplied
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND (referred_by_code = '' OR referred_by_code IS NULL)", userID).
			Update("referred_by_code", code)
		if res.Error != nil {
			return fmt.Errorf("referral: apply code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyApplied
		}
		if errInc := tx.Model(&models.Referral{}).
			Where("id = ?", refs[0].ID).
			Update("uses_count", gorm.Expr("uses_count + ?", 1)).Error; errInc != nil {
			return fmt.Errorf("referral: count use: %w", errInc)
		}
		return nil
	})
}

// PaymentResult reports what a qualifying payment produced.
type PaymentResult struct {
	Purchase *models.CreditTransaction
	Outcome  string
}

// OnQualifyingPayment credits the purchase and, when eligible, the referral bonus to both sides.
func (e *Engine) OnQualifyingPayment(ctx context.Context, userID uint64, amountMicro int64, refID string) (*PaymentResult, error) {
	if e == nil || e.ledger == nil {
		return nil, errors.New("referral: engine not initialized")
	}
	var result *PaymentResult
	errTx := e.ledger.InTx(ctx, func(tx *gorm.DB) error {
		res, errPay := e.OnQualifyingPaymentTx(tx, userID, amountMicro, refID)
		result = res
		return errPay
	})
	if errTx != nil {
		return nil, errTx
	}
	e.report(result)
	return result, nil
}

// OnQualifyingPaymentTx is OnQualifyingPayment inside a caller-owned transaction. Metrics are left to the caller.
func (e *Engine) OnQualifyingPaymentTx(tx *gorm.DB, userID uint64, amountMicro int64, refID string) (*PaymentResult, error) {
	refID = strings.TrimSpace(refID)
	if refID == "" {
		return nil, errors.New("referral: ref id is required")
	}
	purchase, errCredit := e.ledger.CreditTx(tx, userID, amountMicro, models.CreditSourcePurchase, refID)
	if errCredit != nil {
		return nil, errCredit
	}
	outcome, errAward := e.awardTx(tx, userID, amountMicro, refID)
	if errAward != nil {
		return nil, errAward
	}
	return &PaymentResult{Purchase: purchase, Outcome: outcome}, nil
}

// ReportOutcome records metrics for a result produced by OnQualifyingPaymentTx.
func (e *Engine) ReportOutcome(result *PaymentResult) {
	e.report(result)
}

func (e *Engine) report(result *PaymentResult) {
	if result == nil {
		return
	}
	metrics.RecordCredit(string(models.CreditSourcePurchase))
	metrics.RecordReferralAward(result.Outcome)
	if result.Outcome == OutcomeAwarded {
		metrics.RecordCredit(string(models.CreditSourceReferral))
		metrics.RecordCredit(string(models.CreditSourceReferral))
	}
}

func (e *Engine) awardTx(tx *gorm.DB, userID uint64, amountMicro int64, refID string) (string, error) {
	policy := e.policy()

	var users []models.User
	if errFind := tx.Where("id = ?", userID).Limit(1).Find(&users).Error; errFind != nil {
		return "", fmt.Errorf("referral: load user: %w", errFind)
	}
	if len(users) == 0 || users[0].ReferredByCode == "" {
		return OutcomeNotReferred, nil
	}
	if amountMicro < policy.ReferralThresholdMicro || policy.ReferralBonusMicro <= 0 {
		return OutcomeBelowMinimum, nil
	}

	var prior int64
	if errCount := tx.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND source = ? AND ref_id = ?", userID, models.CreditSourceReferral, refID).
		Count(&prior).Error; errCount != nil {
		return "", fmt.Errorf("referral: dedup lookup: %w", errCount)
	}
	if prior > 0 {
		return OutcomeDuplicate, nil
	}
	var priorGrants int64
	if errCount := tx.Model(&models.Grant{}).
		Where("user_id = ? AND type = ?", userID, models.GrantTypeReferralSelf).
		Count(&priorGrants).Error; errCount != nil {
		return "", fmt.Errorf("referral: grant lookup: %w", errCount)
	}
	if priorGrants > 0 {
		return OutcomeDuplicate, nil
	}

	code := users[0].ReferredByCode
	var refs []models.Referral
	if errFind := tx.Where("code = ?", code).Limit(1).Find(&refs).Error; errFind != nil {
		return "", fmt.Errorf("referral: load code: %w", errFind)
	}
	if len(refs) == 0 {
		log.Warnf("referral: code %s of user %d no longer resolves", code, userID)
		return OutcomeUnknownOwner, nil
	}
	ownerID := refs[0].OwnerUserID
	ownerWallet, errOwner := wallet.FindWalletTx(tx, ownerID)
	if errOwner != nil {
		return "", errOwner
	}
	if ownerWallet == nil {
		log.Warnf("referral: owner %d of code %s has no wallet, skipping award", ownerID, code)
		return OutcomeOwnerNoWallet, nil
	}

	bonus := policy.ReferralBonusMicro
	sides := []struct {
		userID       uint64
		grantType    models.GrantType
		counterparty uint64
	}{
		{userID, models.GrantTypeReferralSelf, ownerID},
		{ownerID, models.GrantTypeReferralFriend, userID},
	}
	for _, side := range sides {
		if _, errCredit := e.ledger.CreditTx(tx, side.userID, bonus, models.CreditSourceReferral, refID); errCredit != nil {
			return "", errCredit
		}
		grant := models.Grant{
			UserID:   side.userID,
			Type:     side.grantType,
			UsdMicro: bonus,
			RefID:    refID,
			Meta: datatypes.JSON(fmt.Sprintf(`{"code":%s,"counterparty_user_id":%s,"policy_version":%d}`,
				strconv.Quote(code), strconv.Quote(strconv.FormatUint(side.counterparty, 10)), policy.Version)),
			CreatedAt: e.ledger.Now(),
		}
		if errGrant := tx.Create(&grant).Error; errGrant != nil {
			return "", fmt.Errorf("referral: record grant: %w", errGrant)
		}
	}
	return OutcomeAwarded, nil
}

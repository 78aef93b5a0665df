package models

import "time"

// CreditSource identifies why a ledger entry was written.
type CreditSource string

// CreditSource constants.
const (
	CreditSourcePurchase     CreditSource = "purchase"
	CreditSourceAutoRecharge CreditSource = "autorecharge"
	CreditSourcePostpaid     CreditSource = "postpaid"
	CreditSourceAdjustment   CreditSource = "adjustment"
	CreditSourceReferral     CreditSource = "referral"
	CreditSourceWelcome      CreditSource = "welcome"
	CreditSourceUsage        CreditSource = "usage"
)

// Valid reports whether the source is a known ledger source.
func (s CreditSource) Valid() bool {
	switch s {
	case CreditSourcePurchase, CreditSourceAutoRecharge, CreditSourcePostpaid,
		CreditSourceAdjustment, CreditSourceReferral, CreditSourceWelcome, CreditSourceUsage:
		return true
	default:
		return false
	}
}

// CreditTransaction is an immutable ledger entry justifying a wallet balance change.
type CreditTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID      uint64       `gorm:"not null;index:idx_credit_transactions_user_created,priority:1;index:idx_credit_transactions_user_source_ref,priority:1"` // Owning user ID.
	AmountMicro int64        `gorm:"not null"`                                                                                                             // Signed amount; negative only for usage.
	Source      CreditSource `gorm:"type:varchar(32);not null;index:idx_credit_transactions_user_source_ref,priority:2"`                                    // Entry source.
	RefID       string       `gorm:"type:varchar(255);index:idx_credit_transactions_user_source_ref,priority:3"`                                           // External or internal reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_credit_transactions_user_created,priority:2"` // Creation timestamp.
}

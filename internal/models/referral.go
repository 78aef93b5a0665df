package models

import (
	"time"

	"gorm.io/datatypes"
)

// Referral is a referral code and its owner.
type Referral struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string `gorm:"type:varchar(32);not null;uniqueIndex"` // Shareable code.
	OwnerUserID uint64 `gorm:"not null;uniqueIndex"`                  // Owner user ID.
	UsesCount   int64  `gorm:"not null;default:0"`                    // Number of referees that applied the code.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// GrantType identifies why a bonus was paid out.
type GrantType string

// GrantType constants.
const (
	GrantTypeWelcome GrantType = "welcome"
	// GrantTypeReferralSelf is paid to the referred user who made the purchase.
	GrantTypeReferralSelf GrantType = "referral_self"
	// GrantTypeReferralFriend is paid to the code owner for a friend's purchase.
	GrantTypeReferralFriend GrantType = "referral_friend"
)

// Grant is an audit record of a bonus payout; the paired CreditTransaction moves the balance.
type Grant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   uint64         `gorm:"not null;index"`            // Credited user ID.
	Type     GrantType      `gorm:"type:varchar(32);not null"` // Grant reason.
	UsdMicro int64          `gorm:"not null"`                  // Credited amount.
	RefID    string         `gorm:"type:varchar(255)"`         // Payment event reference.
	Meta     datatypes.JSON `gorm:"type:jsonb"`                // Extra audit context.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

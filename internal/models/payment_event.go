package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEvent journals every accepted payment webhook delivery.
type PaymentEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RefID       string `gorm:"type:varchar(255);not null;uniqueIndex"` // Provider event ID.
	EventType   string `gorm:"type:varchar(64);not null;index"`       // Provider event type.
	UserID      uint64 `gorm:"not null;index"`                         // Paying user ID.
	AmountMicro int64  `gorm:"not null;default:0"`                     // Paid amount.
	Qualifying  bool   `gorm:"not null;default:false"`                 // Whether the event credited the wallet.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Raw webhook body.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Receipt timestamp.
}

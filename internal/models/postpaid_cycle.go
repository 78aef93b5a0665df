package models

import "time"

// PostpaidCycleStatus represents the lifecycle state of a postpaid cycle.
type PostpaidCycleStatus string

// PostpaidCycleStatus constants.
const (
	PostpaidCycleStatusDue  PostpaidCycleStatus = "due"
	PostpaidCycleStatusPaid PostpaidCycleStatus = "paid"
)

// PostpaidCycle is a settled billing window of unfunded usage.
type PostpaidCycle struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_postpaid_cycles_user_end,priority:1"` // Billed user ID.

	WindowStart time.Time `gorm:"not null"`                                              // Inclusive window start.
	WindowEnd   time.Time `gorm:"not null;index:idx_postpaid_cycles_user_end,priority:2"` // Exclusive window end.

	UsdMicroCharges    int64               `gorm:"not null;default:0"`              // Amount owed for the window.
	WalletDebitedMicro int64               `gorm:"not null;default:0"`              // Part of the charges already debited from the wallet.
	Status             PostpaidCycleStatus `gorm:"type:varchar(16);not null;index"` // Cycle status.

	PaidRefID string     `gorm:"type:varchar(255)"` // Payment event that settled the cycle.
	PaidAt    *time.Time // Settlement timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}

package models

import "time"

// Limits stores the free-tier daily allowance state of a user.
type Limits struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.

	FreeModeDailyUsdMicroQuota int64 `gorm:"not null"`           // Daily free allowance, seeded from policy.
	FreeModeUsedTodayUsdMicro  int64 `gorm:"not null;default:0"` // Usage accounted on RollupDateEpochDay.
	RollupDateEpochDay         int64 `gorm:"not null;default:0"` // Epoch day of the last accounting.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (Limits) TableName() string {
	return "limits"
}

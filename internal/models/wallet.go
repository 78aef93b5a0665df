package models

import "time"

// Wallet holds the prepaid balance of a single user.
type Wallet struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`    // Owning user.

	BalanceMicro int64 `gorm:"not null;default:0"` // Signed balance in micro-currency units.
	Version      int64 `gorm:"not null;default:0"` // Optimistic concurrency stamp, bumped on every balance change.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

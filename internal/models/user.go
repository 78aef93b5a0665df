package models

import "time"

// User represents an end-user known to the ledger. Identity itself is owned by the auth service.
type User struct {
	ID uint64 `gorm:"primaryKey"` // Identity-provider user ID.

	Email string `gorm:"type:text;index"` // Email address.
	Name  string `gorm:"type:text"`       // Display name.

	ReferredByCode string `gorm:"type:varchar(32);index"` // Referral code applied by this user, empty when none.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

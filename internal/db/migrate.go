package db

import (
	"fmt"

	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the ledger schema.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.CreditTransaction{},
		&models.ModelRate{},
		&models.UsageEvent{},
		&models.Limits{},
		&models.PostpaidCycle{},
		&models.Referral{},
		&models.Grant{},
		&models.PaymentEvent{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}

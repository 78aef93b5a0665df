package models

import "time"

// ModelRate is one priced version of a model's cost schedule.
type ModelRate struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID  string `gorm:"type:varchar(255);not null;index:idx_model_rates_model_created,priority:1"` // Model identifier.
	Provider string `gorm:"type:varchar(255);not null;default:''"`                                     // Upstream provider name.

	InputPerMillion  int64 `gorm:"not null;default:0"` // Micro-currency per million input tokens.
	OutputPerMillion int64 `gorm:"not null;default:0"` // Micro-currency per million output tokens.

	Version       int64     `gorm:"not null;index"`              // Refresh batch stamp (unix millis).
	EffectiveFrom time.Time `gorm:"not null"`                    // Time the rate took effect.
	IsActive      bool      `gorm:"not null;default:true;index"` // Authoritative hint.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_model_rates_model_created,priority:2"` // Creation timestamp.
}

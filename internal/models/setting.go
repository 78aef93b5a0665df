package models

import (
	"encoding/json"
	"time"
)

// Setting stores a runtime policy override as a key/value entry.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Policy key.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON-encoded value.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last update timestamp, doubles as policy version.
}

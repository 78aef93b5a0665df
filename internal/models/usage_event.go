package models

import "time"

// UsageEventStatus tells whether a usage event was covered by a funded wallet.
type UsageEventStatus string

// UsageEventStatus constants.
const (
	// UsageEventStatusPrepaid marks usage debited from a positive balance. The balance may still end below zero,
	// in which case UnfundedMicro holds the uncovered part.
	UsageEventStatusPrepaid UsageEventStatus = "prepaid"
	// UsageEventStatusUnfunded marks usage debited from a balance that was already exhausted.
	UsageEventStatusUnfunded UsageEventStatus = "unfunded"
	// UsageEventStatusUnbilled marks usage recorded for a user without a wallet; no balance moved.
	UsageEventStatusUnbilled UsageEventStatus = "unbilled"
)

// UsageEvent records one billed model invocation.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID *string `gorm:"type:varchar(255);uniqueIndex"` // Caller request ID, used to drop repeated reports.

	UserID         uint64 `gorm:"not null;index:idx_usage_events_user_created,priority:1"` // Billed user ID.
	ConversationID string `gorm:"type:varchar(255);index"`                                 // Originating conversation.
	ToolSlug       string `gorm:"type:varchar(255);not null;default:''"`                   // Tool surface that issued the call.
	Provider       string `gorm:"type:varchar(255);not null;default:''"`                   // Provider of the priced rate.
	ModelID        string `gorm:"type:varchar(255);not null;index"`                        // Model identifier.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt token count.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion token count.

	UsdMicroCost   int64 `gorm:"not null;default:0"` // Base cost at write time.
	UsdMicroMargin int64 `gorm:"not null;default:0"` // Margin at write time.

	RateID      *uint64 `gorm:"index"`              // Rate row used, nil when unpriced.
	RateVersion int64   `gorm:"not null;default:0"` // Rate version used.

	Status        UsageEventStatus `gorm:"type:varchar(16);not null;index"` // Funding status.
	UnfundedMicro int64            `gorm:"not null;default:0;index"`        // Part of the total no positive balance covered.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_usage_events_user_created,priority:2"` // Creation timestamp.
}

// TotalMicro returns the billed amount for the event.
func (e UsageEvent) TotalMicro() int64 {
	return e.UsdMicroCost + e.UsdMicroMargin
}

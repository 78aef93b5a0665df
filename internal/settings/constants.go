package settings

// Policy keys stored in the settings table. Each value is a JSON number.
const (
	// MarginPPMKey overrides the usage margin in parts per million of base cost.
	MarginPPMKey = "MARGIN_PPM"
	// ReferralThresholdMicroKey overrides the minimum purchase that unlocks a referral bonus.
	ReferralThresholdMicroKey = "REFERRAL_THRESHOLD_MICRO"
	// ReferralBonusMicroKey overrides the bonus credited to each referral side.
	ReferralBonusMicroKey = "REFERRAL_BONUS_MICRO"
	// FreeDailyQuotaMicroKey overrides the default free-tier daily allowance.
	FreeDailyQuotaMicroKey = "FREE_DAILY_QUOTA_MICRO"
	// WelcomeBonusMicroKey overrides the credit granted when a wallet is provisioned.
	WelcomeBonusMicroKey = "WELCOME_BONUS_MICRO"
	// PaymentPayloadRetentionDaysKey sets how long raw webhook bodies are kept; 0 disables cleanup.
	PaymentPayloadRetentionDaysKey = "PAYMENT_PAYLOAD_RETENTION_DAYS"
)

// Built-in policy defaults, used when neither the config file nor the settings table provide a value.
const (
	DefaultMarginPPM              int64 = 50_000
	DefaultReferralThresholdMicro int64 = 20_000_000
	DefaultReferralBonusMicro     int64 = 10_000_000
	DefaultFreeDailyQuotaMicro    int64 = 500_000
	DefaultWelcomeBonusMicro      int64 = 0

	DefaultPaymentPayloadRetentionDays = 90
)

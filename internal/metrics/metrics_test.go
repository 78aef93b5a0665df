package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/v0/front/wallet", "200", 0.02)
	RecordHTTPRequest("GET", "/v0/front/wallet", "200", 0.03)
	RecordHTTPRequest("GET", "/v0/front/wallet", "401", 0.01)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v0/front/wallet", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v0/front/wallet", "401")))
}

func TestRecordUsage(t *testing.T) {
	UsageEventsTotal.Reset()
	before := testutil.ToFloat64(UsageBilledMicroTotal)

	RecordUsage("prepaid", 4_200_000)
	RecordUsage("unfunded", 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(UsageEventsTotal.WithLabelValues("prepaid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(UsageEventsTotal.WithLabelValues("unfunded")))
	assert.Equal(t, before+4_200_000, testutil.ToFloat64(UsageBilledMicroTotal))
}

func TestRecordCreditAndReferral(t *testing.T) {
	CreditsTotal.Reset()
	ReferralAwardsTotal.Reset()

	RecordCredit("purchase")
	RecordCredit("referral")
	RecordCredit("referral")
	RecordReferralAward("awarded")
	RecordReferralAward("duplicate")

	assert.Equal(t, float64(1), testutil.ToFloat64(CreditsTotal.WithLabelValues("purchase")))
	assert.Equal(t, float64(2), testutil.ToFloat64(CreditsTotal.WithLabelValues("referral")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ReferralAwardsTotal.WithLabelValues("duplicate")))
}

func TestRecordBatchJobs(t *testing.T) {
	SettlementRunsTotal.Reset()
	PricingRefreshTotal.Reset()
	WebhookEventsTotal.Reset()
	cyclesBefore := testutil.ToFloat64(PostpaidCyclesTotal)
	conflictsBefore := testutil.ToFloat64(WalletConflictsTotal)

	RecordSettlementRun("ok")
	RecordPricingRefresh("failed")
	RecordWebhook("duplicate")
	RecordPostpaidCycle()
	RecordWalletConflict()

	assert.Equal(t, float64(1), testutil.ToFloat64(SettlementRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PricingRefreshTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, cyclesBefore+1, testutil.ToFloat64(PostpaidCyclesTotal))
	assert.Equal(t, conflictsBefore+1, testutil.ToFloat64(WalletConflictsTotal))
}

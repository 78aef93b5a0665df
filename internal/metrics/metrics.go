// Package metrics exposes Prometheus counters for the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_ledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	UsageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_usage_events_total",
			Help: "Total number of recorded usage events",
		},
		[]string{"status"},
	)

	UsageBilledMicroTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_ledger_usage_billed_micro_total",
			Help: "Total billed usage in micro-currency units",
		},
	)

	CreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_credits_total",
			Help: "Total number of wallet credits",
		},
		[]string{"source"},
	)

	WalletConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_ledger_wallet_conflicts_total",
			Help: "Total number of optimistic wallet update conflicts",
		},
	)

	ReferralAwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_referral_awards_total",
			Help: "Total number of referral award decisions",
		},
		[]string{"result"},
	)

	PostpaidCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_ledger_postpaid_cycles_total",
			Help: "Total number of postpaid cycles created",
		},
	)

	SettlementRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_settlement_runs_total",
			Help: "Total number of settlement runs",
		},
		[]string{"result"},
	)

	PricingRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_pricing_refresh_total",
			Help: "Total number of pricing refresh attempts",
		},
		[]string{"result"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_webhook_events_total",
			Help: "Total number of payment webhook deliveries",
		},
		[]string{"result"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordUsage(status string, billedMicro int64) {
	UsageEventsTotal.WithLabelValues(status).Inc()
	if billedMicro > 0 {
		UsageBilledMicroTotal.Add(float64(billedMicro))
	}
}

func RecordCredit(source string) {
	CreditsTotal.WithLabelValues(source).Inc()
}

func RecordWalletConflict() {
	WalletConflictsTotal.Inc()
}

func RecordReferralAward(result string) {
	ReferralAwardsTotal.WithLabelValues(result).Inc()
}

func RecordPostpaidCycle() {
	PostpaidCyclesTotal.Inc()
}

func RecordSettlementRun(result string) {
	SettlementRunsTotal.WithLabelValues(result).Inc()
}

func RecordPricingRefresh(result string) {
	PricingRefreshTotal.WithLabelValues(result).Inc()
}

func RecordWebhook(result string) {
	WebhookEventsTotal.WithLabelValues(result).Inc()
}

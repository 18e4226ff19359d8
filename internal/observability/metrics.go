package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. Label values are small fixed sets chosen by the callers.
var (
	// QuotaDecisions counts question reservations by outcome
	// ("accepted", "exhausted", "error").
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_quota_decisions_total",
			Help: "Question quota decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// BillingEvents counts billing webhook events by provider type and outcome
	// ("applied", "duplicate", "stale", "unmatched", "ignored", "error").
	BillingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_billing_events_total",
			Help: "Billing provider events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// AnswerProvider counts produced answers by source ("model", "fallback").
	AnswerProvider = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_answer_provider_total",
			Help: "Answers produced by source.",
		},
		[]string{"source"},
	)

	// AnswerRatings counts stored answer ratings by value ("up", "down") and
	// whether an earlier rating was replaced.
	AnswerRatings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_answer_ratings_total",
			Help: "Answer ratings by value and whether they replaced an earlier rating.",
		},
		[]string{"value", "replaced"},
	)

	// CRMSync counts CRM pushes by kind ("contact", "event") and outcome
	// ("ok", "error", "dropped", "disabled").
	CRMSync = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_crm_sync_total",
			Help: "CRM sync attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(QuotaDecisions, BillingEvents, AnswerProvider, AnswerRatings, CRMSync)
}

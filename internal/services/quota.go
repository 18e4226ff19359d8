// Package services – Quota Engine
//
// QuotaEngine holds the daily question policy. Its methods are pure
// functions of an Account value, the engine clock and the configured limits;
// persistence happens elsewhere (AccountService.observe for normalization,
// repo.ReserveQuestion for the atomic increment).
//
// Day boundaries are calendar days in the engine's Location. A counter
// belongs to the day stored in Account.LastQuestionDay; crossing midnight
// invalidates it without any background job.
package services

import (
	"time"

	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/domain"
)

// QuotaEngine decides question eligibility and owns the counter-reset policy.
type QuotaEngine struct {
	FreeDailyLimit    int
	PremiumDailyLimit int
	Location          *time.Location

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewQuotaEngine builds an engine from the quota configuration.
func NewQuotaEngine(cfg config.QuotaConfig) *QuotaEngine {
	return &QuotaEngine{
		FreeDailyLimit:    cfg.FreeDailyLimit,
		PremiumDailyLimit: cfg.PremiumDailyLimit,
		Location:          cfg.Location(),
	}
}

func (q *QuotaEngine) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *QuotaEngine) loc() *time.Location {
	if q.Location == nil {
		return time.UTC
	}
	return q.Location
}

// DayOf returns the calendar-day key of t in the engine's location.
func (q *QuotaEngine) DayOf(t time.Time) string {
	return t.In(q.loc()).Format(domain.DayLayout)
}

// Today returns the current calendar-day key.
func (q *QuotaEngine) Today() string { return q.DayOf(q.now()) }

// lastDay returns the day key the stored counter belongs to, deriving it from
// LastQuestionDate for rows written before the key column existed.
func (q *QuotaEngine) lastDay(a *domain.Account) string {
	if a.LastQuestionDay != "" {
		return a.LastQuestionDay
	}
	if a.LastQuestionDate != nil {
		return q.DayOf(*a.LastQuestionDate)
	}
	return ""
}

// DailyLimit returns the plan limit for the account.
func (q *QuotaEngine) DailyLimit(a *domain.Account) int {
	if a.IsPremium {
		return q.PremiumDailyLimit
	}
	return q.FreeDailyLimit
}

// CanAsk reports whether the account may ask another question today.
// Premium short-circuits; a counter from an earlier day never blocks.
func (q *QuotaEngine) CanAsk(a *domain.Account) bool {
	if a.IsPremium {
		return true
	}
	if last := q.lastDay(a); last != "" && last != q.Today() {
		return true
	}
	return a.DailyQuestionCount < q.DailyLimit(a)
}

// ResetIfNewDay zeroes the daily counter when it belongs to an earlier day.
// It reports whether the counter changed.
func (q *QuotaEngine) ResetIfNewDay(a *domain.Account) bool {
	last := q.lastDay(a)
	if last == "" || last == q.Today() {
		return false
	}
	if a.DailyQuestionCount == 0 {
		return false
	}
	a.DailyQuestionCount = 0
	return true
}

// ExpirePremium demotes a premium account whose entitlement window closed.
// It reports whether the account changed.
func (q *QuotaEngine) ExpirePremium(a *domain.Account) bool {
	if !a.IsPremium || a.PremiumExpiresAt == nil {
		return false
	}
	if !q.now().After(*a.PremiumExpiresAt) {
		return false
	}
	a.IsPremium = false
	a.SubscriptionStatus = domain.StatusExpired
	return true
}

// Normalization lists what Normalize changed.
type Normalization struct {
	Expired  bool
	DayReset bool
}

// Changed reports whether anything needs persisting.
func (n Normalization) Changed() bool { return n.Expired || n.DayReset }

// Fields returns the column updates that persist the normalization.
func (n Normalization) Fields() map[string]any {
	out := map[string]any{}
	if n.Expired {
		out["is_premium"] = false
		out["subscription_status"] = domain.StatusExpired
	}
	if n.DayReset {
		out["daily_question_count"] = 0
	}
	return out
}

// Normalize is the single correction step run before any read or write of
// plan or counter fields: premium expiry first (it changes the limit), then
// the daily reset.
func (q *QuotaEngine) Normalize(a *domain.Account) Normalization {
	return Normalization{
		Expired:  q.ExpirePremium(a),
		DayReset: q.ResetIfNewDay(a),
	}
}

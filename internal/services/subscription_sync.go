// Package services – Subscription Synchronizer
//
// SubscriptionSync applies verified billing-provider events to accounts.
// Every event runs in one transaction that
//
//   - skips event ids already recorded (at-least-once delivery),
//   - applies the plan fields with repo.ApplyBillingUpdate, which refuses to
//     overwrite state written by a newer event (ordering by event time),
//   - records the event id with its outcome.
//
// Events that match no account are logged, counted and acknowledged; they
// are not the provider's problem to retry.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/billing"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPremiumPeriod is granted on checkout until the first invoice
// reports a real period end.
const DefaultPremiumPeriod = 30 * 24 * time.Hour

// SyncOutcome is what happened to one billing event.
type SyncOutcome string

// Billing event outcomes, also used as metric labels.
const (
	OutcomeApplied   SyncOutcome = "applied"
	OutcomeDuplicate SyncOutcome = "duplicate"
	OutcomeStale     SyncOutcome = "stale"
	OutcomeUnmatched SyncOutcome = "unmatched"
	OutcomeConflict  SyncOutcome = "conflict"
	OutcomeIgnored   SyncOutcome = "ignored"
	OutcomeError     SyncOutcome = "error"
)

// SubscriptionSync implements the billing event transitions.
type SubscriptionSync struct {
	DB            *gorm.DB
	PremiumPeriod time.Duration

	// CRM, when set, receives a contact refresh after a plan change.
	CRM CRMQueue
}

// transition is the planned write for one event.
type transition struct {
	match  repo.BillingMatch
	fields map[string]any
}

// Apply processes one event. A nil error means the event may be acknowledged;
// only storage failures are returned.
func (s *SubscriptionSync) Apply(ctx context.Context, ev billing.Event) (SyncOutcome, error) {
	ctx, span := otel.Tracer("services/SubscriptionSync").Start(ctx, "Apply", trace.WithAttributes(
		attribute.String("billing.event_id", ev.ID),
		attribute.String("billing.event_type", ev.Type),
	))
	defer span.End()

	var (
		outcome   SyncOutcome
		accountID string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := repo.BillingEventSeen(ctx, tx, ev.ID)
		if err != nil {
			return err
		}
		if seen {
			outcome = OutcomeDuplicate
			return nil
		}

		outcome, accountID, err = s.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		err = repo.RecordBillingEvent(ctx, tx, ev.ID, ev.Type, accountID, string(outcome), ev.Created)
		if errors.Is(err, repo.ErrDuplicate) {
			// A concurrent delivery of the same event committed first.
			outcome = OutcomeDuplicate
			return errDuplicateDelivery
		}
		return err
	})
	if errors.Is(err, errDuplicateDelivery) {
		err = nil
	}
	if err != nil {
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply billing event")
	}
	span.SetAttributes(attribute.String("billing.outcome", string(outcome)))
	observability.BillingEvents.WithLabelValues(ev.Type, string(outcome)).Inc()

	logger := log.Ctx(ctx).With().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("outcome", string(outcome)).
		Str("account_id", accountID).
		Logger()
	switch outcome {
	case OutcomeApplied:
		logger.Info().Msg("billing event applied")
		if s.CRM != nil && accountID != "" {
			if a, gerr := repo.GetAccount(ctx, s.DB, accountID); gerr == nil {
				s.CRM.Enqueue(ContactJob(a))
			}
		}
	case OutcomeUnmatched, OutcomeConflict:
		logger.Warn().Msg("billing event not applied")
	case OutcomeError:
		logger.Error().Err(err).Msg("billing event failed")
	default:
		logger.Debug().Msg("billing event skipped")
	}
	return outcome, err
}

var errDuplicateDelivery = errors.New("duplicate billing delivery")

func (s *SubscriptionSync) apply(ctx context.Context, tx *gorm.DB, ev billing.Event) (SyncOutcome, string, error) {
	t, ok := s.plan(ev)
	if !ok {
		return OutcomeIgnored, "", nil
	}
	if t.match.AccountID == "" && t.match.SubscriptionID == "" {
		return OutcomeUnmatched, "", nil
	}

	n, err := repo.ApplyBillingUpdate(ctx, tx, t.match, ev.Created, t.fields)
	if errors.Is(err, repo.ErrDuplicate) {
		// The subscription id is already held by another account.
		return OutcomeConflict, t.match.AccountID, nil
	}
	if err != nil {
		return "", "", err
	}

	a, err := s.lookup(ctx, tx, t.match)
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeUnmatched, t.match.AccountID, nil
	}
	if err != nil {
		return "", "", err
	}
	if n == 0 {
		return OutcomeStale, a.ID, nil
	}
	return OutcomeApplied, a.ID, nil
}

func (s *SubscriptionSync) lookup(ctx context.Context, tx *gorm.DB, m repo.BillingMatch) (*domain.Account, error) {
	if m.AccountID != "" {
		return repo.GetAccount(ctx, tx, m.AccountID)
	}
	return repo.GetAccountBySubscription(ctx, tx, m.SubscriptionID)
}

// plan maps an event to its account match and field changes. The bool is
// false for event types that are not handled.
func (s *SubscriptionSync) plan(ev billing.Event) (transition, bool) {
	switch ev.Type {
	case billing.EventCheckoutCompleted:
		c := ev.Checkout
		if c == nil {
			return transition{}, true
		}
		period := s.PremiumPeriod
		if period <= 0 {
			period = DefaultPremiumPeriod
		}
		// Expiry derives from the event time so redelivery writes the same value.
		expires := ev.Created.Add(period).UTC()
		fields := map[string]any{
			"is_premium":          true,
			"subscription_status": domain.StatusActive,
			"premium_expires_at":  expires,
		}
		if c.SubscriptionID != "" {
			fields["subscription_id"] = c.SubscriptionID
		}
		if c.CustomerID != "" {
			fields["stripe_customer_id"] = c.CustomerID
		}
		return transition{match: repo.BillingMatch{AccountID: c.CorrelationID()}, fields: fields}, true

	case billing.EventSubscriptionUpdated:
		sub := ev.Subscription
		if sub == nil {
			return transition{}, true
		}
		fields := map[string]any{"subscription_status": sub.Status}
		switch sub.Status {
		case domain.StatusActive:
			fields["is_premium"] = true
			if sub.CurrentPeriodEnd != nil {
				fields["premium_expires_at"] = sub.CurrentPeriodEnd.UTC()
			}
		case domain.StatusCanceled, domain.StatusUnpaid, domain.StatusPastDue:
			fields["is_premium"] = false
		}
		return transition{match: repo.BillingMatch{SubscriptionID: sub.ID}, fields: fields}, true

	case billing.EventSubscriptionDeleted:
		sub := ev.Subscription
		if sub == nil {
			return transition{}, true
		}
		return transition{
			match: repo.BillingMatch{SubscriptionID: sub.ID},
			fields: map[string]any{
				"is_premium":          false,
				"subscription_status": domain.StatusCanceled,
			},
		}, true

	case billing.EventPaymentSucceeded:
		inv := ev.Invoice
		if inv == nil {
			return transition{}, true
		}
		fields := map[string]any{
			"is_premium":          true,
			"subscription_status": domain.StatusActive,
		}
		if inv.PeriodEnd != nil {
			fields["premium_expires_at"] = inv.PeriodEnd.UTC()
		}
		return transition{match: repo.BillingMatch{SubscriptionID: inv.SubscriptionID}, fields: fields}, true

	case billing.EventPaymentFailed:
		inv := ev.Invoice
		if inv == nil {
			return transition{}, true
		}
		// Premium stays on: the failed payment opens a grace period.
		return transition{
			match:  repo.BillingMatch{SubscriptionID: inv.SubscriptionID},
			fields: map[string]any{"subscription_status": domain.StatusPastDue},
		}, true
	}
	return transition{}, false
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/billing"
	"github.com/tbourn/chatdys-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BillingGateway is the payment-processor surface used by BillingService.
// *billing.Gateway implements it.
type BillingGateway interface {
	Enabled() bool
	WebhookEnabled() bool
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	EnsureCustomer(ctx context.Context, accountID, email, name string) (string, error)
	ParseWebhook(payload []byte, sigHeader string) (billing.Event, error)
}

// SubscriptionInfo is the normalized plan state of an account.
type SubscriptionInfo struct {
	IsPremium          bool       `json:"is_premium"`
	SubscriptionStatus string     `json:"subscription_status"`
	SubscriptionID     *string    `json:"subscription_id"`
	PremiumExpiresAt   *time.Time `json:"premium_expires_at"`
}

// CheckoutInput carries optional overrides from the client.
type CheckoutInput struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// BillingService implements the payment routes.
type BillingService struct {
	DB       *gorm.DB
	Accounts *AccountService
	Gateway  BillingGateway
	Sync     *SubscriptionSync
}

func (s *BillingService) tracer() trace.Tracer { return otel.Tracer("services/BillingService") }

// CreateCheckout starts a premium checkout for the account.
func (s *BillingService) CreateCheckout(ctx context.Context, accountID string, in CheckoutInput) (string, error) {
	ctx, span := s.tracer().Start(ctx, "CreateCheckout", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if s.Gateway == nil || !s.Gateway.Enabled() {
		return "", ErrBillingNotConfigured
	}
	a, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	url, err := s.Gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		AccountID:  a.ID,
		Subject:    a.Auth0Sub,
		Email:      a.Email,
		CustomerID: a.StripeCustomerID,
		PriceID:    in.PriceID,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
	})
	return url, s.mapGatewayErr(err)
}

// CreatePortal opens the customer portal. Premium only.
func (s *BillingService) CreatePortal(ctx context.Context, accountID, returnURL string) (string, error) {
	ctx, span := s.tracer().Start(ctx, "CreatePortal", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if s.Gateway == nil || !s.Gateway.Enabled() {
		return "", ErrBillingNotConfigured
	}
	a, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !a.IsPremium {
		return "", ErrPremiumRequired
	}

	customerID := a.StripeCustomerID
	if customerID == "" {
		if customerID, err = s.Gateway.EnsureCustomer(ctx, a.ID, a.Email, a.DisplayName()); err != nil {
			return "", s.mapGatewayErr(err)
		}
		if err := repo.UpdateAccountFields(ctx, s.DB, a.ID, map[string]any{"stripe_customer_id": customerID}); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("account_id", a.ID).Msg("store stripe customer id")
		}
	}
	url, err := s.Gateway.CreatePortalSession(ctx, customerID, returnURL)
	return url, s.mapGatewayErr(err)
}

// Status returns the normalized plan state.
func (s *BillingService) Status(ctx context.Context, accountID string) (*SubscriptionInfo, error) {
	a, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionInfo{
		IsPremium:          a.IsPremium,
		SubscriptionStatus: a.SubscriptionStatus,
		SubscriptionID:     a.SubscriptionID,
		PremiumExpiresAt:   a.PremiumExpiresAt,
	}, nil
}

// HandleWebhook verifies and applies one webhook delivery. Signature failures
// return billing.ErrInvalidSignature; a missing secret returns
// ErrBillingNotConfigured.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (SyncOutcome, error) {
	if s.Gateway == nil || !s.Gateway.WebhookEnabled() {
		return "", ErrBillingNotConfigured
	}
	ev, err := s.Gateway.ParseWebhook(payload, sigHeader)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return "", ErrBillingNotConfigured
		}
		return "", err
	}
	return s.Sync.Apply(ctx, ev)
}

func (s *BillingService) mapGatewayErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, billing.ErrNotConfigured):
		return ErrBillingNotConfigured
	default:
		return fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
}

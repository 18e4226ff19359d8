// Package billing wraps the Stripe API: checkout and customer-portal
// sessions, customer lookup, and verified decoding of webhook events into
// the small set of shapes the subscription synchronizer consumes.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/sysutil"
)

// MaxWebhookBytes caps the webhook body read by handlers.
const MaxWebhookBytes = int64(65536)

// Event types handled by the synchronizer.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Metadata keys written on checkout sessions and customers.
const (
	MetaUserID   = "user_id"
	MetaAuth0Sub = "auth0_sub"
)

var (
	// ErrNotConfigured is returned when the required Stripe secret is missing.
	ErrNotConfigured = errors.New("billing: stripe is not configured")

	// ErrInvalidSignature is returned when a webhook payload fails signature
	// verification or cannot be decoded.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// Event is a verified provider event. Exactly one of Checkout, Subscription
// or Invoice is set for the handled types; all are nil otherwise.
type Event struct {
	ID      string
	Type    string
	Created time.Time

	Checkout     *Checkout
	Subscription *Subscription
	Invoice      *Invoice
}

// Checkout is the part of a completed checkout session used for correlation.
type Checkout struct {
	SessionID         string
	AccountID         string // metadata.user_id
	ClientReferenceID string
	SubscriptionID    string
	CustomerID        string
}

// Subscription is a subscription lifecycle payload.
type Subscription struct {
	ID               string
	Status           string
	CustomerID       string
	CurrentPeriodEnd *time.Time
}

// Invoice is an invoice payment payload.
type Invoice struct {
	ID             string
	SubscriptionID string
	PeriodEnd      *time.Time
}

// CheckoutRequest describes a premium checkout for one account.
type CheckoutRequest struct {
	AccountID  string
	Subject    string
	Email      string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// Gateway talks to Stripe with its own API client, so tests can point it at a
// local server.
type Gateway struct {
	api           *client.API
	secretKey     string
	webhookSecret string
	priceID       string
	frontendURL   string
}

// NewGateway builds a gateway from configuration. A non-empty apiURL
// overrides the Stripe API endpoint.
func NewGateway(cfg config.StripeConfig, apiURL string, httpClient *http.Client) *Gateway {
	g := &Gateway{
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		priceID:       cfg.PriceID,
		frontendURL:   strings.TrimRight(cfg.FrontendURL, "/"),
	}
	if g.secretKey == "" {
		return g
	}
	var backends *stripe.Backends
	if apiURL != "" || httpClient != nil {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
		}
		if apiURL != "" {
			bc.URL = stripe.String(apiURL)
		}
		b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	g.api = client.New(g.secretKey, backends)
	return g
}

// Enabled reports whether API calls can be made.
func (g *Gateway) Enabled() bool { return g != nil && g.api != nil }

// WebhookEnabled reports whether webhook verification is configured.
func (g *Gateway) WebhookEnabled() bool { return g != nil && g.webhookSecret != "" }

// CreateCheckoutSession starts a subscription checkout and returns its URL.
// The account id travels in metadata and client_reference_id so the
// completion event can be correlated back.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if !g.Enabled() {
		return "", ErrNotConfigured
	}
	priceID := sysutil.FirstNonEmpty(req.PriceID, g.priceID)
	if priceID == "" {
		return "", fmt.Errorf("%w: missing price id", ErrNotConfigured)
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(sysutil.FirstNonEmpty(req.SuccessURL, g.frontendURL+"/billing/success")),
		CancelURL:                stripe.String(sysutil.FirstNonEmpty(req.CancelURL, g.frontendURL+"/billing/cancel")),
		ClientReferenceID:        stripe.String(req.AccountID),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(MetaUserID, req.AccountID)
	params.AddMetadata(MetaAuth0Sub, req.Subject)
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the customer portal for customerID.
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if !g.Enabled() {
		return "", ErrNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(sysutil.FirstNonEmpty(returnURL, g.frontendURL+"/account")),
	}
	params.Context = ctx
	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe portal session: %w", err)
	}
	return sess.URL, nil
}

// EnsureCustomer returns the id of the Stripe customer with email, creating
// one tagged with the account id when none exists.
func (g *Gateway) EnsureCustomer(ctx context.Context, accountID, email, name string) (string, error) {
	if !g.Enabled() {
		return "", ErrNotConfigured
	}
	if email != "" {
		lp := &stripe.CustomerListParams{Email: stripe.String(email)}
		lp.Context = ctx
		lp.Limit = stripe.Int64(1)
		it := g.api.Customers.List(lp)
		if it.Next() {
			return it.Customer().ID, nil
		}
		if err := it.Err(); err != nil {
			return "", fmt.Errorf("stripe customer lookup: %w", err)
		}
	}

	params := &stripe.CustomerParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata(MetaUserID, accountID)
	params.Context = ctx
	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer create: %w", err)
	}
	return cust.ID, nil
}

// ParseWebhook verifies the signature header and decodes the payload.
// Unhandled event types decode to an Event with only ID, Type and Created.
func (g *Gateway) ParseWebhook(payload []byte, sigHeader string) (Event, error) {
	if !g.WebhookEnabled() {
		return Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	se, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(se)
}

func decodeEvent(se stripe.Event) (Event, error) {
	ev := Event{ID: se.ID, Type: string(se.Type), Created: time.Unix(se.Created, 0).UTC()}
	if se.Data == nil {
		return ev, nil
	}
	raw := se.Data.Raw

	switch ev.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return ev, fmt.Errorf("%w: checkout session: %v", ErrInvalidSignature, err)
		}
		c := &Checkout{
			SessionID:         s.ID,
			AccountID:         strings.TrimSpace(s.Metadata[MetaUserID]),
			ClientReferenceID: strings.TrimSpace(s.ClientReferenceID),
		}
		if s.Subscription != nil {
			c.SubscriptionID = s.Subscription.ID
		}
		if s.Customer != nil {
			c.CustomerID = s.Customer.ID
		}
		ev.Checkout = c

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return ev, fmt.Errorf("%w: subscription: %v", ErrInvalidSignature, err)
		}
		sub := &Subscription{ID: s.ID, Status: string(s.Status), CurrentPeriodEnd: unixPtr(s.CurrentPeriodEnd)}
		if s.Customer != nil {
			sub.CustomerID = s.Customer.ID
		}
		ev.Subscription = sub

	case EventPaymentSucceeded, EventPaymentFailed:
		var in stripe.Invoice
		if err := json.Unmarshal(raw, &in); err != nil {
			return ev, fmt.Errorf("%w: invoice: %v", ErrInvalidSignature, err)
		}
		inv := &Invoice{ID: in.ID, PeriodEnd: unixPtr(in.PeriodEnd)}
		if in.Subscription != nil {
			inv.SubscriptionID = in.Subscription.ID
		}
		ev.Invoice = inv
	}
	return ev, nil
}

// CorrelationID returns the account id a checkout refers to.
func (c *Checkout) CorrelationID() string {
	if c == nil {
		return ""
	}
	return sysutil.FirstNonEmpty(c.AccountID, c.ClientReferenceID)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// Payment HTTP handlers.
//
//   - POST /payments/create-checkout-session
//   - POST /payments/create-portal-session   (premium only)
//   - POST /payments/webhook                 (public, signature-verified)
//   - GET  /payments/subscription-status
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/billing"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// HeaderStripeSignature carries the webhook signature.
const HeaderStripeSignature = "Stripe-Signature"

// CheckoutRequest carries optional overrides for the checkout session.
type CheckoutRequest struct {
	PriceID    string `json:"price_id" example:"price_123"`
	SuccessURL string `json:"success_url" example:"https://app.chatdys.com/success"`
	CancelURL  string `json:"cancel_url" example:"https://app.chatdys.com/pricing"`
}

// CheckoutResponse is the hosted checkout URL.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// PortalRequest carries the URL the portal returns to.
type PortalRequest struct {
	ReturnURL string `json:"return_url" example:"https://app.chatdys.com/account"`
}

// PortalResponse is the hosted customer portal URL.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// WebhookResponse acknowledges a processed delivery.
type WebhookResponse struct {
	Status string `json:"status" example:"success"`
}

// bindOptionalJSON binds a JSON body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	err := c.ShouldBindJSON(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// failBilling maps billing errors shared by checkout and portal.
func failBilling(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBillingNotConfigured):
		fail(c, http.StatusServiceUnavailable, ErrCodeBillingNotConfigured, msgBillingDisabled)
	case errors.Is(err, services.ErrPremiumRequired):
		fail(c, http.StatusForbidden, ErrCodePremiumRequired, msgPortalPremium)
	case errors.Is(err, services.ErrBillingUnavailable):
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, ErrCodeBillingUnavailable, "payment provider request failed")
	default:
		failAccount(c, err)
	}
}

// CreateCheckoutSession godoc
// @ID          createCheckoutSession
// @Summary     Start a premium checkout
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CheckoutRequest  false  "Optional overrides"
// @Success     200   {object}  handlers.CheckoutResponse
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     502   {object}  handlers.ErrorResponse "Payment provider failed"
// @Failure     503   {object}  handlers.ErrorResponse "Payments not configured"
// @Router      /payments/create-checkout-session [post]
func (h *Handlers) CreateCheckoutSession(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	if h.billing == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeBillingNotConfigured, msgBillingDisabled)
		return
	}
	var req CheckoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	url, err := h.billing.CreateCheckout(c.Request.Context(), a.ID, services.CheckoutInput{
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		failBilling(c, err)
		return
	}
	ok(c, http.StatusOK, CheckoutResponse{CheckoutURL: url})
}

// CreatePortalSession godoc
// @ID          createPortalSession
// @Summary     Open the customer portal
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.PortalRequest  false  "Return URL"
// @Success     200   {object}  handlers.PortalResponse
// @Failure     401   {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     403   {object}  handlers.ErrorResponse "Premium required"
// @Failure     503   {object}  handlers.ErrorResponse "Payments not configured"
// @Router      /payments/create-portal-session [post]
func (h *Handlers) CreatePortalSession(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	if h.billing == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeBillingNotConfigured, msgBillingDisabled)
		return
	}
	var req PortalRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	url, err := h.billing.CreatePortal(c.Request.Context(), a.ID, req.ReturnURL)
	if err != nil {
		failBilling(c, err)
		return
	}
	ok(c, http.StatusOK, PortalResponse{PortalURL: url})
}

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Payment processor webhook
// @Description Verifies the signature and applies the subscription event. Unmatched, stale and duplicate events are acknowledged.
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature  header  string  true  "Webhook signature"
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse "Missing or invalid signature"
// @Failure     413  {object}  handlers.ErrorResponse "Payload too large"
// @Failure     500  {object}  handlers.ErrorResponse "Event could not be stored"
// @Failure     503  {object}  handlers.ErrorResponse "Webhook not configured"
// @Router      /payments/webhook [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	if h.billing == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeBillingNotConfigured, msgWebhookDisabled)
		return
	}
	sig := c.GetHeader(HeaderStripeSignature)
	if sig == "" {
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "Missing Stripe signature")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, billing.MaxWebhookBytes+1))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
		return
	}
	if int64(len(payload)) > billing.MaxWebhookBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
		return
	}

	if _, err := h.billing.HandleWebhook(c.Request.Context(), payload, sig); err != nil {
		switch {
		case errors.Is(err, services.ErrBillingNotConfigured):
			fail(c, http.StatusServiceUnavailable, ErrCodeBillingNotConfigured, msgWebhookDisabled)
		case errors.Is(err, billing.ErrInvalidSignature):
			fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "invalid webhook signature")
		default:
			_ = c.Error(err)
			fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, "Webhook processing failed")
		}
		return
	}
	ok(c, http.StatusOK, WebhookResponse{Status: "success"})
}

// SubscriptionStatus godoc
// @ID          subscriptionStatus
// @Summary     Subscription state
// @Tags        Payments
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.SubscriptionInfo
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /payments/subscription-status [get]
func (h *Handlers) SubscriptionStatus(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	if h.billing == nil {
		ok(c, http.StatusOK, services.SubscriptionInfo{
			IsPremium:          a.IsPremium,
			SubscriptionStatus: a.SubscriptionStatus,
			SubscriptionID:     a.SubscriptionID,
			PremiumExpiresAt:   a.PremiumExpiresAt,
		})
		return
	}
	st, err := h.billing.Status(c.Request.Context(), a.ID)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

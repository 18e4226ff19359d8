package handlers

// Error codes carried in ErrorResponse.Code. They are part of the API
// contract: clients branch on them, so existing values never change.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	ErrCodeQuotaExceeded        = "quota_exceeded"
	ErrCodePremiumRequired      = "premium_required"
	ErrCodeAccountInactive      = "account_inactive"
	ErrCodeInvalidQuestion      = "invalid_question"
	ErrCodeAnswerFailed         = "answer_failed"
	ErrCodeBillingNotConfigured = "billing_not_configured"
	ErrCodeBillingUnavailable   = "billing_unavailable"
	ErrCodeInvalidSignature     = "invalid_signature"
	ErrCodeWebhookFailed        = "webhook_failed"
	ErrCodePayloadTooLarge      = "payload_too_large"
	ErrCodeIdempotencyMismatch  = "idempotency_key_reused"
	ErrCodeIdempotencyInFlight  = "idempotency_key_in_flight"
)

// Client-facing messages that callers match on.
const (
	msgQuotaExceeded   = "Daily question limit reached. Upgrade to Premium for unlimited questions."
	msgHistoryPremium  = "Conversation history is a premium feature. Please upgrade to access your chat history."
	msgPortalPremium   = "Customer portal is only available for premium subscribers"
	msgBillingDisabled = "Payment processing is not configured"
	msgWebhookDisabled = "Webhook processing is not configured"
	msgInternal        = "internal server error"
)

// Package services defines the business logic for accounts, quota, the
// conversation ledger, billing synchronization, CRM sync and feedback.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Account and quota errors.
var (
	// ErrAccountNotFound indicates that no live account exists for the caller.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when the identity maps to a soft-deleted
	// account.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrQuotaExceeded is returned when a non-premium account has used its
	// daily question allowance. No counters are touched.
	ErrQuotaExceeded = errors.New("daily question limit reached")

	// ErrPremiumRequired is returned for features reserved to premium accounts.
	ErrPremiumRequired = errors.New("premium subscription required")

	// ErrInvalidProfile is returned when profile input fails validation.
	ErrInvalidProfile = errors.New("invalid profile data")
)

// Conversation and message errors.
var (
	// ErrEmptyQuestion is returned when a submitted question is blank.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrQuestionTooLong is returned when a question exceeds the configured
	// maximum rune length.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrIdempotencyMismatch is returned when an idempotency key is reused
	// with a different question or conversation.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")

	// ErrIdempotencyInFlight is returned when another submission holding the
	// same idempotency key has not finished yet.
	ErrIdempotencyInFlight = errors.New("idempotency key in use by a request in progress")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidFeedback is returned for a rating other than -1 or 1, or an
	// oversized comment.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbiddenFeedback is returned when a user attempts to leave feedback
	// on a message they are not permitted to rate.
	ErrForbiddenFeedback = errors.New("cannot leave feedback on this message")
)

// Integration errors.
var (
	// ErrBillingNotConfigured is returned when payment operations are invoked
	// without processor credentials.
	ErrBillingNotConfigured = errors.New("billing is not configured")

	// ErrBillingUnavailable wraps failures of the payment processor API.
	ErrBillingUnavailable = errors.New("billing provider unavailable")

	// ErrCRMNotConfigured is returned when CRM sync is requested without
	// credentials.
	ErrCRMNotConfigured = errors.New("crm is not configured")

	// ErrCRMMissingEmail is reported for sync jobs on accounts without an
	// email; contacts are keyed by email.
	ErrCRMMissingEmail = errors.New("account has no email")
)

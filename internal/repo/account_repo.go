// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Account
// model.
//
// Counter and plan mutations are expressed as single conditional UPDATE
// statements so concurrent writers (question submissions and billing
// webhooks) never interleave a read and a write:
//
//   - ReserveQuestion(ctx, db, id, today, now, limit)
//     increments the usage counters only while the account is allowed to ask.
//
//   - UpdateAccountCAS(ctx, db, id, version, fields)
//     applies fields only if the row still carries the observed version.
//
//   - ApplyBillingUpdate(ctx, db, match, eventAt, fields)
//     applies plan fields only if no newer billing event was applied before.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// ErrConflict is returned when a compare-and-set update matched no row
// because the account changed since it was read.
var ErrConflict = errors.New("conflict")

// ErrQuotaExhausted is returned by ReserveQuestion when the account may not
// ask another question today (or is inactive).
var ErrQuotaExhausted = errors.New("quota exhausted")

// CreateAccount inserts a new account. A unique violation on id or subject
// is reported as ErrDuplicate.
func CreateAccount(ctx context.Context, db *gorm.DB, a *domain.Account) (*domain.Account, error) {
	if a.SubscriptionStatus == "" {
		a.SubscriptionStatus = domain.StatusFree
	}
	a.IsActive = true
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return a, nil
}

// GetAccount fetches a live (not soft-deleted) account by id.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountBySubject fetches an account by identity subject, including
// soft-deleted rows so callers can tell "deleted" from "never seen".
func GetAccountBySubject(ctx context.Context, db *gorm.DB, sub string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Unscoped().Where("auth0_sub = ?", sub).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountBySubscription fetches a live account by external subscription id.
func GetAccountBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAccountFields applies fields to a live account without a version check.
// Use it only for columns no other writer races on (profile, login bookkeeping).
func UpdateAccountFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccountCAS applies fields only if the account still has version.
// It bumps the version on success and returns ErrConflict otherwise.
func UpdateAccountCAS(ctx context.Context, db *gorm.DB, id string, version int64, fields map[string]any) error {
	set := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		set[k] = v
	}
	set["version"] = gorm.Expr("version + 1")

	res := db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(set)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ReserveQuestion atomically records one question for the account if it may
// ask: premium accounts always may, otherwise the day key must differ from
// today (fresh day) or the daily counter must be below limit. The daily
// counter restarts at 1 when the stored day is not today.
//
// It returns ErrQuotaExhausted when no row qualified; nothing is written then.
func ReserveQuestion(ctx context.Context, db *gorm.DB, id, today string, now time.Time, limit int) error {
	res := db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND is_active = ?", id, true).
		Where("(is_premium = ? OR last_question_day <> ? OR daily_question_count < ?)", true, today, limit).
		Updates(map[string]any{
			"question_count":       gorm.Expr("question_count + 1"),
			"daily_question_count": gorm.Expr("CASE WHEN last_question_day = ? THEN daily_question_count + 1 ELSE 1 END", today),
			"last_question_date":   now.UTC(),
			"last_question_day":    today,
			"version":              gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

// BillingMatch selects the account a billing event applies to: by account id
// (checkout) or by subscription id (every later lifecycle event).
type BillingMatch struct {
	AccountID      string
	SubscriptionID string
}

// ApplyBillingUpdate writes plan fields to the matched account unless it has
// already applied a billing event newer than eventAt. Equal timestamps apply,
// so a redelivered event converges on the same state.
//
// It returns the number of rows updated (0 or 1). A subscription id already
// held by another account surfaces as ErrDuplicate.
func ApplyBillingUpdate(ctx context.Context, db *gorm.DB, match BillingMatch, eventAt time.Time, fields map[string]any) (int64, error) {
	set := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		set[k] = v
	}
	set["billing_event_at"] = eventAt.UTC()
	set["version"] = gorm.Expr("version + 1")

	q := db.WithContext(ctx).Model(&domain.Account{})
	switch {
	case match.AccountID != "":
		q = q.Where("id = ?", match.AccountID)
	case match.SubscriptionID != "":
		q = q.Where("subscription_id = ?", match.SubscriptionID)
	default:
		return 0, nil
	}
	res := q.Where("(billing_event_at IS NULL OR billing_event_at <= ?)", eventAt.UTC()).Updates(set)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return 0, ErrDuplicate
		}
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// IncrementTotalConversations bumps the lifetime conversation counter.
func IncrementTotalConversations(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", id).
		UpdateColumn("total_conversations", gorm.Expr("total_conversations + 1")).Error
}

// SoftDeleteAccount marks the account inactive and soft-deletes it.
func SoftDeleteAccount(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "deleted_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkHubSpotSynced stores the CRM contact id and sync time.
func MarkHubSpotSynced(ctx context.Context, db *gorm.DB, id, contactID string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"hubspot_contact_id": contactID,
			"hubspot_synced":     true,
			"hubspot_last_sync":  at.UTC(),
		}).Error
}

package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// IdemKey addresses one idempotency record.
type IdemKey struct {
	AccountID string
	Scope     string
	Key       string
}

func (k IdemKey) blank() bool {
	return strings.TrimSpace(k.Scope) == "" || strings.TrimSpace(k.Key) == ""
}

// FindIdempotency returns the live record for k, or ErrNotFound.
func FindIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, now time.Time) (*domain.Idempotency, error) {
	if k.blank() {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("account_id = ? AND scope = ? AND key = ? AND expires_at > ?", k.AccountID, k.Scope, k.Key, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency stores rec under its key, replacing an expired record
// with the same key. A live record yields ErrDuplicate. ID and CreatedAt are
// filled when empty.
func SaveIdempotency(ctx context.Context, db *gorm.DB, rec *domain.Idempotency) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	db = db.WithContext(ctx)
	err := db.Where("account_id = ? AND scope = ? AND key = ? AND expires_at <= ?", rec.AccountID, rec.Scope, rec.Key, now).
		Delete(&domain.Idempotency{}).Error
	if err != nil {
		return err
	}
	if err := db.Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CompleteIdempotency attaches the answer to a pending claim on k and moves
// its expiry to expiresAt.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, conversationID, messageID string, expiresAt time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("account_id = ? AND scope = ? AND key = ? AND message_id = ''", k.AccountID, k.Scope, k.Key).
		Updates(map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
			"expires_at":      expiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency drops a pending claim on k so the key can be retried.
// Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, k IdemKey) error {
	return db.WithContext(ctx).
		Where("account_id = ? AND scope = ? AND key = ? AND message_id = ''", k.AccountID, k.Scope, k.Key).
		Delete(&domain.Idempotency{}).Error
}

// PurgeIdempotency deletes records expired at now and returns how many went.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

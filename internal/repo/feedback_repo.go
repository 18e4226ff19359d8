package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// GetFeedback loads the caller's rating of messageID.
func GetFeedback(ctx context.Context, db *gorm.DB, messageID, userID string) (*domain.Feedback, error) {
	var fb domain.Feedback
	err := db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		First(&fb).Error
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// SaveFeedback records the rating of messageID by userID, replacing any
// earlier rating by the same user. created reports whether a new row was
// inserted. A concurrent first rating surfaces as ErrDuplicate; callers
// retry once and land on the update path.
func SaveFeedback(ctx context.Context, db *gorm.DB, messageID, userID string, value int, comment string) (fb *domain.Feedback, created bool, err error) {
	now := time.Now().UTC()

	fb, err = GetFeedback(ctx, db, messageID, userID)
	switch {
	case err == nil:
		err = db.WithContext(ctx).Model(fb).Updates(map[string]any{
			"value":      value,
			"comment":    comment,
			"updated_at": now,
		}).Error
		if err != nil {
			return nil, false, err
		}
		fb.Value, fb.Comment, fb.UpdatedAt = value, comment, now
		return fb, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	fb = &domain.Feedback{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Value:     value,
		Comment:   comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(fb).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicate
		}
		return nil, false, err
	}
	return fb, true, nil
}

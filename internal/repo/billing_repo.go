package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// BillingEventSeen reports whether a provider event id was already processed.
func BillingEventSeen(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	var ev domain.BillingEvent
	err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordBillingEvent stores a processed event. A second insert for the same
// event id returns ErrDuplicate.
func RecordBillingEvent(ctx context.Context, db *gorm.DB, eventID, typ, accountID, outcome string, occurredAt time.Time) error {
	ev := &domain.BillingEvent{
		EventID:     eventID,
		Type:        typ,
		AccountID:   accountID,
		Outcome:     outcome,
		OccurredAt:  occurredAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

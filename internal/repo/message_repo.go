// Messages are append-only apart from soft deletion. Ordering everywhere is
// (created_at, id) so equal timestamps still sort stably.

package repo

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// CreateMessage inserts m, assigning an id and creation time when unset.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListRecentMessages returns the newest limit messages of a conversation in
// chronological order.
func ListRecentMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SoftDeleteMessage soft-deletes a single message.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{}).Error
}

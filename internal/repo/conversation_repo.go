// Conversations are always addressed by (id, owner). A conversation that
// belongs to someone else is indistinguishable from a missing one: both give
// ErrNotFound.

package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

// CreateConversation inserts a new active conversation owned by userID.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches an active conversation by id and owner.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND is_active = ?", id, userID, true).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of active conversations of userID.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of active conversations, most recently
// used first. Conversations that never received an exchange sort by creation.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateConversationTitle renames a conversation, enforcing ownership.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ? AND is_active = ?", id, userID, true).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordExchange advances message_count by two and stamps last_message_at.
// It returns the message count after the update, so callers can tell whether
// this was the conversation's first exchange.
func RecordExchange(ctx context.Context, db *gorm.DB, id string, at time.Time) (int, error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"message_count":   gorm.Expr("message_count + 2"),
			"last_message_at": at.UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var row struct{ MessageCount int }
	if err := db.WithContext(ctx).Model(&domain.Conversation{}).
		Select("message_count").Where("id = ?", id).Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.MessageCount, nil
}

// SoftDeleteConversation deactivates and soft-deletes a conversation owned by
// userID together with its messages.
func SoftDeleteConversation(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&domain.Conversation{}).
			Where("id = ? AND user_id = ? AND is_active = ?", id, userID, true).
			Updates(map[string]any{"is_active": false, "deleted_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&domain.Message{}).Error
	})
}

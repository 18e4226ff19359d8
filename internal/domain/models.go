// Package domain defines the persistence models for accounts, conversations,
// messages, feedback and billing bookkeeping. These types are mapped with GORM
// and are shared across the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups question/answer exchanges owned by one account.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owning account; indexed for listing.
//   - Title: derived from the first question, user-editable.
//   - MessageCount: advanced by 2 per exchange, never recomputed.
//   - IsActive / DeletedAt: soft deletion.
//   - LastMessageAt: time of the most recent exchange.
type Conversation struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string         `json:"user_id"        gorm:"type:varchar(128);not null;index:idx_user_conversations,priority:1"`
	Title         string         `json:"title"          gorm:"type:varchar(255);not null;default:'New conversation'"`
	Summary       string         `json:"summary,omitempty" gorm:"type:text"`
	MessageCount  int            `json:"message_count"  gorm:"not null;default:0"`
	IsActive      bool           `json:"is_active"      gorm:"not null;default:true"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty" gorm:"index:idx_user_conversations,priority:2"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Source is one citation attached to an assistant message.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Type  string `json:"type"`
}

// Message is a single immutable turn within a conversation.
//
// Fields:
//   - Role: "user" or "assistant" (DB check constraint).
//   - Sources / ConfidenceScore / ProcessingTime / ModelUsed: answer metadata,
//     assistant turns only.
//   - ErrorMessage: provider failure recorded when a fallback answer was used.
type Message struct {
	ID              string                      `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID  string                      `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	UserID          string                      `json:"user_id"         gorm:"type:varchar(128);not null;index"`
	Role            string                      `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content         string                      `json:"content"         gorm:"type:text;not null"`
	Sources         datatypes.JSONSlice[Source] `json:"sources,omitempty"`
	ConfidenceScore *int                        `json:"confidence_score,omitempty"`
	ProcessingTime  *int64                      `json:"processing_time,omitempty"`
	ModelUsed       string                      `json:"model_used,omitempty"`
	TokenCount      *int                        `json:"token_count,omitempty"`
	ErrorMessage    string                      `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt       time.Time                   `json:"created_at"      gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt       time.Time                   `json:"-"`
	DeletedAt       gorm.DeletedAt              `json:"-"               gorm:"index"`

	// Conversation is the parent. Messages are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Feedback is a user rating on an assistant message, one per (message, user).
// Rating again replaces the earlier value.
type Feedback struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string         `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_message_user"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(128);not null;index;uniqueIndex:ux_feedback_message_user"`
	Value     int            `json:"value"      gorm:"not null;check:value IN (-1,1)"`
	Comment   string         `json:"comment,omitempty" gorm:"type:varchar(1000)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }

// BillingEvent records a processed payment-provider event so redeliveries
// are recognized.
type BillingEvent struct {
	EventID     string    `gorm:"type:varchar(255);primaryKey"`
	Type        string    `gorm:"type:varchar(64);not null;index"`
	AccountID   string    `gorm:"type:varchar(128);index"`
	Outcome     string    `gorm:"type:varchar(32);not null"`
	OccurredAt  time.Time `gorm:"not null"`
	ProcessedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName returns the database table name for BillingEvent.
func (BillingEvent) TableName() string { return "billing_events" }

// Package services – LedgerService
//
// LedgerService maintains the append-only conversation log. Conversations
// are created lazily from the first question; each accepted question adds a
// user message before the answer is produced and an assistant message after,
// and only then advances message_count by two. History reads are bounded
// windows meant for prompt context, not transcripts.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/answer"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/repo"
	"github.com/tbourn/chatdys-backend/internal/sysutil"
	"github.com/tbourn/chatdys-backend/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultHistoryLimit bounds the prompt context window.
	DefaultHistoryLimit = 10

	autoTitleRunes  = 50
	maxTitleRunes   = 100
	untitledTitle   = "Untitled Conversation"
	fallbackAnswer  = "I apologize, but I couldn't generate a response."
	errorMessageCap = 500
)

// LedgerService implements conversation use-cases.
type LedgerService struct {
	DB       *gorm.DB
	Accounts *AccountService

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Reply is the answer payload appended as the assistant turn.
type Reply struct {
	Result         *answer.Result
	ProcessingTime time.Duration
	// ProviderErr is recorded on the message when the answer is a fallback.
	ProviderErr error
}

// ConversationDetail is a conversation with its live messages.
type ConversationDetail struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
}

func (s *LedgerService) tracer() trace.Tracer { return otel.Tracer("services/LedgerService") }

func (s *LedgerService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// TitleFromQuestion derives a conversation title from the first ~50
// characters of a question.
func TitleFromQuestion(q string) string {
	q = collapseSpaces(norm.NFC.String(q))
	if utf8.RuneCountInString(q) > autoTitleRunes {
		return string([]rune(q)[:autoTitleRunes]) + "..."
	}
	return q
}

// GetOrCreate reuses conversationID when it names a live conversation owned
// by accountID; otherwise it creates one titled from question. The bool
// reports whether a conversation was created.
func (s *LedgerService) GetOrCreate(ctx context.Context, db *gorm.DB, accountID, conversationID, question string) (*domain.Conversation, bool, error) {
	if conversationID = strings.TrimSpace(conversationID); conversationID != "" {
		c, err := repo.GetConversation(ctx, db, conversationID, accountID)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
	}
	title := TitleFromQuestion(question)
	if title == "" {
		title = untitledTitle
	}
	c, err := repo.CreateConversation(ctx, db, accountID, title)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// AppendQuestion writes the user turn.
func (s *LedgerService) AppendQuestion(ctx context.Context, db *gorm.DB, conv *domain.Conversation, question string) (*domain.Message, error) {
	return repo.CreateMessage(ctx, db, &domain.Message{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Role:           domain.RoleUser,
		Content:        question,
		CreatedAt:      s.now(),
	})
}

// AppendAnswer writes the assistant turn, advances the conversation by one
// exchange and, on its first exchange, bumps the owner's total_conversations.
func (s *LedgerService) AppendAnswer(ctx context.Context, db *gorm.DB, conv *domain.Conversation, reply Reply) (*domain.Message, error) {
	now := s.now()
	msg := &domain.Message{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Role:           domain.RoleAssistant,
		Content:        fallbackAnswer,
		Sources:        datatypes.NewJSONSlice([]domain.Source{}),
		CreatedAt:      now,
	}
	if r := reply.Result; r != nil {
		if strings.TrimSpace(r.Answer) != "" {
			msg.Content = r.Answer
		}
		if r.Sources != nil {
			msg.Sources = datatypes.NewJSONSlice(r.Sources)
		}
		score := r.ConfidenceScore
		msg.ConfidenceScore = &score
		msg.ModelUsed = r.ModelUsed
		if r.TokensUsed > 0 {
			tokens := r.TokensUsed
			msg.TokenCount = &tokens
		}
	}
	ms := reply.ProcessingTime.Milliseconds()
	msg.ProcessingTime = &ms
	if reply.ProviderErr != nil {
		msg.ErrorMessage = sysutil.TruncateRunes(reply.ProviderErr.Error(), errorMessageCap)
	}

	if _, err := repo.CreateMessage(ctx, db, msg); err != nil {
		return nil, err
	}
	count, err := repo.RecordExchange(ctx, db, conv.ID, now)
	if err != nil {
		return nil, err
	}
	conv.MessageCount = count
	conv.LastMessageAt = &now
	if count == 2 {
		if err := repo.IncrementTotalConversations(ctx, db, conv.UserID); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// HistoryForContext returns the newest limit messages in chronological
// order reduced to role and content. limit <= 0 means DefaultHistoryLimit.
func (s *LedgerService) HistoryForContext(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]answer.Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := repo.ListRecentMessages(ctx, db, conversationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]answer.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, answer.Turn{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// requirePremium gates history features on a normalized premium status.
func (s *LedgerService) requirePremium(ctx context.Context, accountID string) error {
	st, err := s.Accounts.CheckPremium(ctx, accountID)
	if err != nil {
		return err
	}
	if !st.IsPremium {
		return ErrPremiumRequired
	}
	return nil
}

// List returns a page of the account's conversations, most recent first.
// Premium only.
func (s *LedgerService) List(ctx context.Context, accountID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	ctx, span := s.tracer().Start(ctx, "List", trace.WithAttributes(
		attribute.String("account.id", accountID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if err := s.requirePremium(ctx, accountID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampPageSize(pageSize)

	total, err := repo.CountConversations(ctx, s.DB, accountID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, accountID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Get returns a conversation and its messages. Premium only.
func (s *LedgerService) Get(ctx context.Context, accountID, conversationID string) (*ConversationDetail, error) {
	ctx, span := s.tracer().Start(ctx, "Get", trace.WithAttributes(
		attribute.String("account.id", accountID),
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	if err := s.requirePremium(ctx, accountID); err != nil {
		return nil, err
	}
	c, err := repo.GetConversation(ctx, s.DB, conversationID, accountID)
	if err != nil {
		return nil, mapConversationErr(err)
	}
	msgs, err := repo.ListMessages(ctx, s.DB, c.ID)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: c, Messages: msgs}, nil
}

// Delete soft-deletes a conversation and its messages.
func (s *LedgerService) Delete(ctx context.Context, accountID, conversationID string) error {
	ctx, span := s.tracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()
	return mapConversationErr(repo.SoftDeleteConversation(ctx, s.DB, conversationID, accountID))
}

// UpdateTitle renames a conversation; titles are clipped to 100 runes.
func (s *LedgerService) UpdateTitle(ctx context.Context, accountID, conversationID, title string) (*domain.Conversation, error) {
	ctx, span := s.tracer().Start(ctx, "UpdateTitle", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	title = sysutil.TruncateRunes(collapseSpaces(norm.NFC.String(title)), maxTitleRunes)
	if title == "" {
		title = untitledTitle
	}
	if err := repo.UpdateConversationTitle(ctx, s.DB, conversationID, accountID, title); err != nil {
		return nil, mapConversationErr(err)
	}
	c, err := repo.GetConversation(ctx, s.DB, conversationID, accountID)
	return c, mapConversationErr(err)
}

func mapConversationErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

var spacesRE = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return spacesRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

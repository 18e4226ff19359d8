package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventAnswerRated is the CRM event emitted after a rating is stored.
const EventAnswerRated = "chatdys_answer_rated"

// MaxFeedbackComment bounds the optional free-text comment, in runes.
const MaxFeedbackComment = 1000

// FeedbackService stores ratings of assistant answers. Only the owner of a
// live conversation may rate its assistant turns; each account keeps a
// single rating per answer and rating again replaces it.
type FeedbackService struct {
	DB *gorm.DB
	// CRM receives an EventAnswerRated job per stored rating; nil disables it.
	CRM CRMQueue
}

// Rate records value (-1 or 1) and an optional comment for messageID.
// created is false when an earlier rating was replaced.
//
// Errors: ErrInvalidFeedback, ErrMessageNotFound (missing message or deleted
// conversation), ErrForbiddenFeedback (someone else's conversation or a user
// turn).
func (s *FeedbackService) Rate(ctx context.Context, a *domain.Account, messageID string, value int, comment string) (*domain.Feedback, bool, error) {
	ctx, span := otel.Tracer("services/FeedbackService").Start(ctx, "Rate", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.Int("feedback.value", value),
	))
	defer span.End()

	comment = strings.TrimSpace(comment)
	if value != -1 && value != 1 || utf8.RuneCountInString(comment) > MaxFeedbackComment {
		return nil, false, ErrInvalidFeedback
	}

	var (
		fb      *domain.Feedback
		created bool
		msg     *domain.Message
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if msg, err = s.ratable(ctx, tx, a.ID, messageID); err != nil {
			return err
		}
		fb, created, err = repo.SaveFeedback(ctx, tx, messageID, a.ID, value, comment)
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost the race with a concurrent first rating.
			fb, created, err = repo.SaveFeedback(ctx, tx, messageID, a.ID, value, comment)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("feedback.created", created))
	rating := "up"
	if value < 0 {
		rating = "down"
	}
	observability.AnswerRatings.WithLabelValues(rating, strconv.FormatBool(!created)).Inc()

	if s.CRM != nil {
		s.CRM.Enqueue(EventJob(a, EventAnswerRated, map[string]string{
			"rating":          strconv.Itoa(value),
			"model_used":      msg.ModelUsed,
			"has_comment":     strconv.FormatBool(comment != ""),
			"conversation_id": msg.ConversationID,
		}))
	}
	return fb, created, nil
}

// ratable loads messageID and checks the caller may rate it.
func (s *FeedbackService) ratable(ctx context.Context, tx *gorm.DB, accountID, messageID string) (*domain.Message, error) {
	msg, err := repo.GetMessage(ctx, tx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	var conv domain.Conversation
	err = tx.WithContext(ctx).Unscoped().Where("id = ?", msg.ConversationID).First(&conv).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrMessageNotFound
	case err != nil:
		return nil, err
	case conv.UserID != accountID:
		return nil, ErrForbiddenFeedback
	case conv.DeletedAt.Valid || !conv.IsActive:
		return nil, ErrMessageNotFound
	}

	if msg.Role != domain.RoleAssistant {
		return nil, ErrForbiddenFeedback
	}
	return msg, nil
}

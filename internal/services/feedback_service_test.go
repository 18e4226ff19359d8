package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"
)

// seedExchange stores one question and its answer in a new conversation
// owned by a.
func seedExchange(t *testing.T, db *gorm.DB, a *domain.Account) (convID, questionID, answerID string) {
	t.Helper()
	ctx := context.Background()
	conv, err := repo.CreateConversation(ctx, db, a.ID, "Vertigo")
	require.NoError(t, err)
	q, err := repo.CreateMessage(ctx, db, &domain.Message{ConversationID: conv.ID, UserID: a.ID, Role: domain.RoleUser, Content: "Why do I feel dizzy?"})
	require.NoError(t, err)
	ans, err := repo.CreateMessage(ctx, db, &domain.Message{ConversationID: conv.ID, UserID: a.ID, Role: domain.RoleAssistant, Content: "Several causes...", ModelUsed: "gpt-4o-mini"})
	require.NoError(t, err)
	return conv.ID, q.ID, ans.ID
}

func TestFeedback_Rate_Rejections(t *testing.T) {
	db := newTestDB(t)
	owner := seedAccount(t, db, "owner", nil)
	intruder := seedAccount(t, db, "intruder", nil)
	_, question, answer := seedExchange(t, db, owner)
	svc := &FeedbackService{DB: db}

	cases := []struct {
		name    string
		acct    *domain.Account
		msg     string
		value   int
		comment string
		want    error
	}{
		{"zero value", owner, answer, 0, "", ErrInvalidFeedback},
		{"out of range", owner, answer, 2, "", ErrInvalidFeedback},
		{"comment too long", owner, answer, 1, strings.Repeat("é", MaxFeedbackComment+1), ErrInvalidFeedback},
		{"unknown message", owner, "missing", 1, "", ErrMessageNotFound},
		{"someone else's conversation", intruder, answer, 1, "", ErrForbiddenFeedback},
		{"question turn", owner, question, -1, "", ErrForbiddenFeedback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Rate(context.Background(), tc.acct, tc.msg, tc.value, tc.comment)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	var n int64
	require.NoError(t, db.Model(&domain.Feedback{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestFeedback_Rate_ReplacesEarlierRating(t *testing.T) {
	db := newTestDB(t)
	a := seedAccount(t, db, "u1", nil)
	convID, _, answer := seedExchange(t, db, a)
	crm := &recordingQueue{}
	svc := &FeedbackService{DB: db, CRM: crm}
	ctx := context.Background()

	fb, created, err := svc.Rate(ctx, a, answer, 1, "  clear and helpful ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "clear and helpful", fb.Comment)

	replaced := observability.AnswerRatings.WithLabelValues("down", "true")
	before := testutil.ToFloat64(replaced)
	again, created, err := svc.Rate(ctx, a, answer, -1, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, before+1, testutil.ToFloat64(replaced))
	assert.Equal(t, fb.ID, again.ID)

	var rows []domain.Feedback
	require.NoError(t, db.Where("message_id = ?", answer).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, -1, rows[0].Value)
	assert.Empty(t, rows[0].Comment)

	jobs := crm.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, CRMEvent, jobs[0].Kind)
	assert.Equal(t, EventAnswerRated, jobs[0].EventName)
	assert.Equal(t, a.Email, jobs[0].Email)
	assert.Equal(t, map[string]string{
		"rating":          "1",
		"model_used":      "gpt-4o-mini",
		"has_comment":     "true",
		"conversation_id": convID,
	}, jobs[0].Props)
	assert.Equal(t, "-1", jobs[1].Props["rating"])
}

func TestFeedback_Rate_DeletedConversation(t *testing.T) {
	db := newTestDB(t)
	a := seedAccount(t, db, "u1", nil)
	convID, _, answer := seedExchange(t, db, a)
	require.NoError(t, repo.SoftDeleteConversation(context.Background(), db, convID, a.ID))

	crm := &recordingQueue{}
	svc := &FeedbackService{DB: db, CRM: crm}
	_, _, err := svc.Rate(context.Background(), a, answer, 1, "")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Empty(t, crm.Jobs())
}

// Storage failures pass through unmapped.
func TestFeedback_Rate_StorageError(t *testing.T) {
	db := newTestDB(t)
	a := seedAccount(t, db, "u1", nil)
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("fail_messages", func(tx *gorm.DB) {
		if tx.Statement != nil && strings.Contains(tx.Statement.Table, "messages") {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))

	_, _, err := (&FeedbackService{DB: db}).Rate(context.Background(), a, "m-any", 1, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMessageNotFound)
	assert.Contains(t, err.Error(), "disk I/O error")
}

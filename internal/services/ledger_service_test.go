package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/answer"
	"github.com/tbourn/chatdys-backend/internal/domain"
)

func TestTitleFromQuestion(t *testing.T) {
	assert.Equal(t, "What is POTS?", TitleFromQuestion("  What   is\nPOTS? "))

	long := strings.Repeat("é", 60)
	got := TitleFromQuestion(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 53, utf8.RuneCountInString(got))

	// Decomposed input is composed before counting.
	assert.Equal(t, "caf\u00e9", TitleFromQuestion("cafe\u0301"))
}

// appendExchange writes both turns of an answered exchange in one transaction.
func appendExchange(ctx context.Context, l *LedgerService, conv *domain.Conversation, question string, reply Reply) (*domain.Message, *domain.Message, error) {
	var user, assistant *domain.Message
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if user, err = l.AppendQuestion(ctx, tx, conv, question); err != nil {
			return err
		}
		assistant, err = l.AppendAnswer(ctx, tx, conv, reply)
		return err
	})
	return user, assistant, err
}

func TestLedger_GetOrCreateAndAppend(t *testing.T) {
	db := newTestDB(t)
	accounts := newAccountService(db, newClock(testNow))
	seedAccount(t, db, "u1", nil)
	seedAccount(t, db, "u2", nil)
	ledger := &LedgerService{DB: db, Accounts: accounts}
	ctx := context.Background()

	conv, created, err := ledger.GetOrCreate(ctx, db, "u1", "", "How do I manage POTS flares?")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "How do I manage POTS flares?", conv.Title)

	_, assistant, err := appendExchange(ctx, ledger, conv, "How do I manage POTS flares?", Reply{
		Result:         &answer.Result{Answer: "Hydrate.", Sources: []domain.Source{{Title: "Mayo Clinic", Type: "organization"}}, ConfidenceScore: 70, ModelUsed: "gpt-4", TokensUsed: 42},
		ProcessingTime: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hydrate.", assistant.Content)
	require.NotNil(t, assistant.ConfidenceScore)
	assert.Equal(t, 70, *assistant.ConfidenceScore)
	assert.Equal(t, int64(1500), *assistant.ProcessingTime)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, 1, mustAccount(t, db, "u1").TotalConversations)

	// Reuse by id; a second exchange does not bump total_conversations.
	again, created, err := ledger.GetOrCreate(ctx, db, "u1", conv.ID, "follow up")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	_, _, err = appendExchange(ctx, ledger, again, "follow up", Reply{ProviderErr: errors.New("openai timeout")})
	require.NoError(t, err)
	assert.Equal(t, 4, again.MessageCount)
	assert.Equal(t, 1, mustAccount(t, db, "u1").TotalConversations)

	var n int64
	require.NoError(t, db.Model(&domain.Message{}).Where("conversation_id = ?", conv.ID).Count(&n).Error)
	assert.Equal(t, int64(again.MessageCount), n)

	// Another account's conversation id is not reused.
	other, created, err := ledger.GetOrCreate(ctx, db, "u2", conv.ID, "mine?")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestLedger_FallbackMarkersOnProviderFailure(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, "u1", nil)
	ledger := &LedgerService{DB: db, Accounts: newAccountService(db, newClock(testNow))}
	ctx := context.Background()

	conv, _, err := ledger.GetOrCreate(ctx, db, "u1", "", "q")
	require.NoError(t, err)
	_, msg, err := appendExchange(ctx, ledger, conv, "q", Reply{ProviderErr: errors.New(strings.Repeat("x", 900))})
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, msg.Content)
	assert.Equal(t, 500, utf8.RuneCountInString(msg.ErrorMessage))
	assert.NotNil(t, msg.Sources)
}

func TestLedger_HistoryForContext(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, "u1", nil)
	ledger := &LedgerService{DB: db, Accounts: newAccountService(db, newClock(testNow))}
	ctx := context.Background()

	conv, _, err := ledger.GetOrCreate(ctx, db, "u1", "", "q0")
	require.NoError(t, err)
	base := testNow
	for i := 0; i < 7; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		ledger.Now = func() time.Time { return at }
		_, _, err := appendExchange(ctx, ledger, conv, "q", Reply{Result: &answer.Result{Answer: "a"}})
		require.NoError(t, err)
	}

	hist, err := ledger.HistoryForContext(ctx, db, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, hist, DefaultHistoryLimit)

	hist, err = ledger.HistoryForContext(ctx, db, conv.ID, 3)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestLedger_PremiumGatedReads(t *testing.T) {
	db := newTestDB(t)
	c := newClock(testNow)
	accounts := newAccountService(db, c)
	seedAccount(t, db, "free", nil)
	seedAccount(t, db, "prem", func(a *domain.Account) {
		a.IsPremium = true
		a.SubscriptionStatus = domain.StatusActive
		a.PremiumExpiresAt = ptrTime(testNow.Add(24 * time.Hour))
	})
	ledger := &LedgerService{DB: db, Accounts: accounts}
	ctx := context.Background()

	_, _, err := ledger.List(ctx, "free", 1, 20)
	assert.ErrorIs(t, err, ErrPremiumRequired)

	for i := 0; i < 3; i++ {
		conv, _, err := ledger.GetOrCreate(ctx, db, "prem", "", "question")
		require.NoError(t, err)
		_, _, err = appendExchange(ctx, ledger, conv, "question", Reply{Result: &answer.Result{Answer: "a"}})
		require.NoError(t, err)
	}
	items, total, err := ledger.List(ctx, "prem", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 2)

	detail, err := ledger.Get(ctx, "prem", items[0].ID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 2)

	_, err = ledger.Get(ctx, "prem", "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	// Lapsed premium loses access on the next read.
	c.Advance(48 * time.Hour)
	_, err = ledger.Get(ctx, "prem", items[0].ID)
	assert.ErrorIs(t, err, ErrPremiumRequired)
}

func TestLedger_DeleteAndRename(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, "u1", nil)
	ledger := &LedgerService{DB: db, Accounts: newAccountService(db, newClock(testNow))}
	ctx := context.Background()

	conv, _, err := ledger.GetOrCreate(ctx, db, "u1", "", "q")
	require.NoError(t, err)

	renamed, err := ledger.UpdateTitle(ctx, "u1", conv.ID, strings.Repeat("t", 150))
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(renamed.Title))

	renamed, err = ledger.UpdateTitle(ctx, "u1", conv.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, untitledTitle, renamed.Title)

	_, err = ledger.UpdateTitle(ctx, "u2", conv.ID, "x")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	require.NoError(t, ledger.Delete(ctx, "u1", conv.ID))
	assert.ErrorIs(t, ledger.Delete(ctx, "u1", conv.ID), ErrConversationNotFound)
}

// Package services – QuestionService
//
// QuestionService runs one question submission end to end:
//
//  1. validate the text (trimmed, non-empty, bounded) before any write;
//  2. in one transaction: normalize the account, atomically reserve quota,
//     resolve or create the conversation, read the context window and write
//     the user turn;
//  3. call the answer provider under a timeout, falling back to canned
//     answers on any failure;
//  4. in a second transaction: write the assistant turn and advance the
//     conversation counters.
//
// If step 4 fails the user turn is soft-deleted so message_count still
// matches the live messages. The reserved question is not refunded.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/answer"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyScopeQuery scopes idempotency keys of question submissions.
const IdempotencyScopeQuery = "query"

// DefaultMaxQuestionRunes is the question length ceiling.
const DefaultMaxQuestionRunes = 2000

// DefaultIdempotencyTTL bounds how long a submission can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// QuestionService coordinates quota, ledger and answer provider.
type QuestionService struct {
	DB       *gorm.DB
	Accounts *AccountService
	Ledger   *LedgerService
	Provider answer.Provider

	// Timeout bounds the provider call; zero means no extra bound.
	Timeout          time.Duration
	MaxQuestionRunes int
	HistoryLimit     int
	IdempotencyTTL   time.Duration
}

// QuestionInput is one submission.
type QuestionInput struct {
	AccountID      string
	Question       string
	ConversationID string
	IdempotencyKey string
}

// QuestionResult is the submission outcome.
type QuestionResult struct {
	Answer          string          `json:"answer"`
	ConversationID  string          `json:"conversation_id"`
	MessageID       string          `json:"message_id"`
	Sources         []domain.Source `json:"sources"`
	ConfidenceScore *int            `json:"confidence_score,omitempty"`
	ProcessingTime  *int64          `json:"processing_time,omitempty"`

	// Replayed is set when the result was served from an earlier submission
	// with the same idempotency key.
	Replayed bool `json:"-"`
}

// ValidateQuestion trims and checks a question.
func (s *QuestionService) ValidateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuestion
	}
	limit := s.MaxQuestionRunes
	if limit <= 0 {
		limit = DefaultMaxQuestionRunes
	}
	if utf8.RuneCountInString(q) > limit {
		return "", ErrQuestionTooLong
	}
	return q, nil
}

// Ask submits a question and returns the persisted answer.
func (s *QuestionService) Ask(ctx context.Context, in QuestionInput) (*QuestionResult, error) {
	ctx, span := otel.Tracer("services/QuestionService").Start(ctx, "Ask",
		trace.WithAttributes(
			attribute.String("account.id", in.AccountID),
			attribute.String("conversation.id", in.ConversationID),
		),
	)
	defer span.End()
	start := time.Now()

	question, err := s.ValidateQuestion(in.Question)
	if err != nil {
		return nil, err
	}

	reqHash := domain.HashRequest(question, in.ConversationID)
	if in.IdempotencyKey != "" {
		if res, err := s.replay(ctx, in.AccountID, in.IdempotencyKey, reqHash); err == nil {
			span.SetAttributes(attribute.Bool("idempotent.replay", true))
			return res, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	var (
		conv    *domain.Conversation
		userMsg *domain.Message
		history []answer.Turn
		key     = queryKey(in.AccountID, in.IdempotencyKey)
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The key is claimed before quota is spent, so a concurrent duplicate
		// loses on the unique index and never reserves.
		if in.IdempotencyKey != "" {
			err := repo.SaveIdempotency(ctx, tx, &domain.Idempotency{
				AccountID:   in.AccountID,
				Scope:       IdempotencyScopeQuery,
				Key:         in.IdempotencyKey,
				RequestHash: reqHash,
				ExpiresAt:   time.Now().UTC().Add(s.claimTTL()),
			})
			if errors.Is(err, repo.ErrDuplicate) {
				return errKeyClaimed
			}
			if err != nil {
				return err
			}
		}
		if _, err := s.Accounts.reserve(ctx, tx, in.AccountID); err != nil {
			return err
		}
		var err error
		if conv, _, err = s.Ledger.GetOrCreate(ctx, tx, in.AccountID, in.ConversationID, question); err != nil {
			return err
		}
		if history, err = s.Ledger.HistoryForContext(ctx, tx, conv.ID, s.HistoryLimit); err != nil {
			return err
		}
		userMsg, err = s.Ledger.AppendQuestion(ctx, tx, conv, question)
		return err
	})
	if errors.Is(err, errKeyClaimed) {
		res, rerr := s.replay(ctx, in.AccountID, in.IdempotencyKey, reqHash)
		if errors.Is(rerr, repo.ErrNotFound) {
			// The holder gave its claim up in the meantime.
			rerr = ErrIdempotencyInFlight
		}
		if rerr != nil {
			return nil, rerr
		}
		span.SetAttributes(attribute.Bool("idempotent.replay", true))
		return res, nil
	}
	if err != nil {
		if !errors.Is(err, ErrQuotaExceeded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reserve")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	reply := s.produce(ctx, in.AccountID, question, history)
	reply.ProcessingTime = time.Since(start)

	var assistant *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if assistant, err = s.Ledger.AppendAnswer(ctx, tx, conv, reply); err != nil {
			return err
		}
		if in.IdempotencyKey == "" {
			return nil
		}
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = DefaultIdempotencyTTL
		}
		err = repo.CompleteIdempotency(ctx, tx, key, conv.ID, assistant.ID, time.Now().UTC().Add(ttl))
		if errors.Is(err, repo.ErrNotFound) {
			log.Ctx(ctx).Warn().Str("account_id", in.AccountID).Msg("idempotency claim expired before the answer was stored")
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append answer")
		bg := context.WithoutCancel(ctx)
		// Keep the ledger consistent: an unanswered user turn must not survive.
		if derr := repo.SoftDeleteMessage(bg, s.DB, userMsg.ID); derr != nil {
			log.Ctx(ctx).Error().Err(derr).Str("message_id", userMsg.ID).Msg("orphan user message")
		}
		if in.IdempotencyKey != "" {
			if derr := repo.ReleaseIdempotency(bg, s.DB, key); derr != nil {
				log.Ctx(ctx).Warn().Err(derr).Str("account_id", in.AccountID).Msg("idempotency claim not released")
			}
		}
		return nil, err
	}

	return resultFromMessage(assistant), nil
}

// produce calls the provider under the configured timeout. Provider errors
// are absorbed; the reply then carries fallback content and the error.
func (s *QuestionService) produce(ctx context.Context, accountID, question string, history []answer.Turn) Reply {
	if s.Provider == nil {
		return Reply{ProviderErr: answer.ErrNotConfigured}
	}
	pctx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	res, err := s.Provider.Answer(pctx, answer.Request{Question: question, History: history, UserID: accountID})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("account_id", accountID).Msg("answer provider failed; using fallback")
	}
	return Reply{Result: res, ProviderErr: err}
}

// replay returns the stored answer for an idempotency key. A key first used
// for a different request is refused with ErrIdempotencyMismatch.
func (s *QuestionService) replay(ctx context.Context, accountID, key, reqHash string) (*QuestionResult, error) {
	rec, err := repo.FindIdempotency(ctx, s.DB, queryKey(accountID, key), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if rec.RequestHash != reqHash {
		return nil, ErrIdempotencyMismatch
	}
	if rec.Pending() {
		return nil, ErrIdempotencyInFlight
	}
	msg, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil, err
	}
	res := resultFromMessage(msg)
	res.Replayed = true
	return res, nil
}

// Replayable reports whether key already has a stored answer. Claims still
// in progress do not count.
func (s *QuestionService) Replayable(ctx context.Context, accountID, key string) (bool, error) {
	rec, err := repo.FindIdempotency(ctx, s.DB, queryKey(accountID, key), time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.Pending(), nil
}

// errKeyClaimed aborts the reservation when another submission already
// holds the idempotency key.
var errKeyClaimed = errors.New("idempotency key already claimed")

// claimTTL bounds how long a claim can block its key when the submission
// holding it never finishes.
func (s *QuestionService) claimTTL() time.Duration {
	return s.Timeout + time.Minute
}

func queryKey(accountID, key string) repo.IdemKey {
	return repo.IdemKey{AccountID: accountID, Scope: IdempotencyScopeQuery, Key: key}
}

// PurgeExpiredKeys deletes idempotency records past their TTL every interval
// until ctx ends.
func (s *QuestionService) PurgeExpiredKeys(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeIdempotency(ctx, s.DB, now.UTC())
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Ctx(ctx).Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}

func resultFromMessage(m *domain.Message) *QuestionResult {
	sources := []domain.Source(m.Sources)
	if sources == nil {
		sources = []domain.Source{}
	}
	return &QuestionResult{
		Answer:          m.Content,
		ConversationID:  m.ConversationID,
		MessageID:       m.ID,
		Sources:         sources,
		ConfidenceScore: m.ConfidenceScore,
		ProcessingTime:  m.ProcessingTime,
	}
}

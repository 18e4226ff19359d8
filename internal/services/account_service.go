// Package services – AccountService
//
// AccountService owns the Account record: lazy creation on first identity
// resolution, login bookkeeping, profile edits, soft deletion and every read
// of plan or usage state. Each of those paths runs observe() first so premium
// expiry and the daily counter reset are applied (and persisted) before any
// decision is taken on is_premium or daily_question_count.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// subjectPrefix is the identity provider namespace stripped from subjects.
const subjectPrefix = "auth0|"

// CRM event names emitted by account operations.
const (
	EventSignup           = "chatdys_signup"
	EventProfileCompleted = "chatdys_profile_completed"
)

// AccountIDFromSubject derives the account primary key from a subject.
func AccountIDFromSubject(sub string) string {
	return strings.TrimPrefix(sub, subjectPrefix)
}

// AccountService implements account use-cases.
type AccountService struct {
	DB    *gorm.DB
	Quota *QuotaEngine

	// SessionGap is the idle time after which a request counts as a new login.
	SessionGap time.Duration

	// CRM receives fire-and-forget sync jobs; nil disables sync.
	CRM CRMQueue
}

// Usage is the quota view of an account.
type Usage struct {
	QuestionCount      int        `json:"question_count"`
	DailyQuestionCount int        `json:"daily_question_count"`
	TotalConversations int        `json:"total_conversations"`
	IsPremium          bool       `json:"is_premium"`
	SubscriptionStatus string     `json:"subscription_status"`
	DailyLimit         int        `json:"daily_limit"`
	CanAskQuestions    bool       `json:"can_ask_questions"`
	LastQuestionDate   *time.Time `json:"last_question_date"`
}

// PremiumStatus is the plan view of an account.
type PremiumStatus struct {
	IsPremium          bool       `json:"is_premium"`
	SubscriptionStatus string     `json:"subscription_status"`
	PremiumExpiresAt   *time.Time `json:"premium_expires_at"`
}

// QuestionReceipt reports the counters after an accepted reservation.
type QuestionReceipt struct {
	QuestionCount      int  `json:"question_count"`
	DailyQuestionCount int  `json:"daily_question_count"`
	CanAskMore         bool `json:"can_ask_more"`
	IsPremium          bool `json:"is_premium"`
}

// ProfileInput carries onboarding answers. Nil slices and maps are left
// untouched.
type ProfileInput struct {
	Age             *int
	Conditions      []string
	Symptoms        []string
	Medications     []string
	Preferences     map[string]any
	FirstName       string
	LastName        string
	PhoneNumber     string
	Location        string
	HowHeardAboutUs string
}

func (s *AccountService) tracer() trace.Tracer { return otel.Tracer("services/AccountService") }

func (s *AccountService) now() time.Time { return s.Quota.now().UTC() }

// Resolve returns the account for a verified identity, creating it on first
// sight. Profile claims are refreshed and login bookkeeping updated on every
// call. A soft-deleted account yields ErrAccountInactive.
func (s *AccountService) Resolve(ctx context.Context, id domain.Identity) (*domain.Account, error) {
	ctx, span := s.tracer().Start(ctx, "Resolve")
	defer span.End()

	if strings.TrimSpace(id.Subject) == "" {
		return nil, ErrAccountNotFound
	}

	acct, created, err := s.resolveOnce(ctx, id)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a first-login race for the same subject; the row exists now.
		acct, created, err = s.resolveOnce(ctx, id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", acct.ID), attribute.Bool("account.created", created))

	if created {
		log.Ctx(ctx).Info().Str("account_id", acct.ID).Msg("account created")
		s.enqueue(ContactJob(acct))
		s.enqueue(EventJob(acct, EventSignup, nil))
	}
	return acct, nil
}

func (s *AccountService) resolveOnce(ctx context.Context, id domain.Identity) (*domain.Account, bool, error) {
	var (
		out     *domain.Account
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		a, err := repo.GetAccountBySubject(ctx, tx, id.Subject)
		if errors.Is(err, repo.ErrNotFound) {
			a = &domain.Account{
				ID:         AccountIDFromSubject(id.Subject),
				Auth0Sub:   id.Subject,
				FirstLogin: &now,
				LastLogin:  &now,
				LoginCount: 1,
			}
			applyClaims(a, id)
			if a, err = repo.CreateAccount(ctx, tx, a); err != nil {
				return err
			}
			out, created = a, true
			return nil
		}
		if err != nil {
			return err
		}
		if !a.IsActive || a.DeletedAt.Valid {
			return ErrAccountInactive
		}

		fields := claimFields(id)
		fields["last_login"] = now
		if a.LastLogin == nil || now.Sub(*a.LastLogin) >= s.SessionGap {
			fields["login_count"] = gorm.Expr("login_count + 1")
		}
		if err := repo.UpdateAccountFields(ctx, tx, a.ID, fields); err != nil {
			return err
		}
		if a, err = repo.GetAccount(ctx, tx, a.ID); err != nil {
			return err
		}
		out, err = s.observe(ctx, tx, a)
		return err
	})
	return out, created, err
}

// applyClaims copies identity claims onto a new account.
func applyClaims(a *domain.Account, id domain.Identity) {
	a.Email = id.Email
	a.EmailVerified = id.EmailVerified
	a.Name = id.Name
	a.GivenName = id.GivenName
	a.FamilyName = id.FamilyName
	a.Nickname = id.Nickname
	a.Picture = id.Picture
}

// claimFields returns the non-empty claims as column updates; a token that
// omits a claim never blanks the stored value.
func claimFields(id domain.Identity) map[string]any {
	f := map[string]any{"email_verified": id.EmailVerified}
	set := func(col, v string) {
		if strings.TrimSpace(v) != "" {
			f[col] = v
		}
	}
	set("email", id.Email)
	set("name", id.Name)
	set("given_name", id.GivenName)
	set("family_name", id.FamilyName)
	set("nickname", id.Nickname)
	set("picture", id.Picture)
	return f
}

// observe normalizes a (freshly read) account and persists the correction
// with a version check. A concurrent writer causes one reload and retry;
// the second read already reflects the other writer's state.
func (s *AccountService) observe(ctx context.Context, db *gorm.DB, a *domain.Account) (*domain.Account, error) {
	for attempt := 0; ; attempt++ {
		n := s.Quota.Normalize(a)
		if !n.Changed() {
			return a, nil
		}
		err := repo.UpdateAccountCAS(ctx, db, a.ID, a.Version, n.Fields())
		if err == nil {
			a.Version++
			if n.Expired {
				log.Ctx(ctx).Info().Str("account_id", a.ID).Msg("premium expired")
			}
			return a, nil
		}
		if !errors.Is(err, repo.ErrConflict) || attempt > 0 {
			return nil, err
		}
		if a, err = repo.GetAccount(ctx, db, a.ID); err != nil {
			return nil, s.mapNotFound(err)
		}
	}
}

func (s *AccountService) mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// load reads and normalizes a live account.
func (s *AccountService) load(ctx context.Context, db *gorm.DB, accountID string) (*domain.Account, error) {
	a, err := repo.GetAccount(ctx, db, accountID)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.observe(ctx, db, a)
}

// Get returns the normalized account.
func (s *AccountService) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := s.tracer().Start(ctx, "Get", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()
	return s.load(ctx, s.DB, accountID)
}

// Usage returns the quota view after normalization.
func (s *AccountService) Usage(ctx context.Context, accountID string) (*Usage, error) {
	ctx, span := s.tracer().Start(ctx, "Usage", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	a, err := s.load(ctx, s.DB, accountID)
	if err != nil {
		return nil, err
	}
	return &Usage{
		QuestionCount:      a.QuestionCount,
		DailyQuestionCount: a.DailyQuestionCount,
		TotalConversations: a.TotalConversations,
		IsPremium:          a.IsPremium,
		SubscriptionStatus: a.SubscriptionStatus,
		DailyLimit:         s.Quota.DailyLimit(a),
		CanAskQuestions:    s.Quota.CanAsk(a),
		LastQuestionDate:   a.LastQuestionDate,
	}, nil
}

// CheckPremium returns the plan view after normalization.
func (s *AccountService) CheckPremium(ctx context.Context, accountID string) (*PremiumStatus, error) {
	ctx, span := s.tracer().Start(ctx, "CheckPremium", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	a, err := s.load(ctx, s.DB, accountID)
	if err != nil {
		return nil, err
	}
	return &PremiumStatus{
		IsPremium:          a.IsPremium,
		SubscriptionStatus: a.SubscriptionStatus,
		PremiumExpiresAt:   a.PremiumExpiresAt,
	}, nil
}

// reserve normalizes the account and atomically records one question on
// db. It returns ErrQuotaExceeded without touching counters when the
// account may not ask.
func (s *AccountService) reserve(ctx context.Context, db *gorm.DB, accountID string) (*domain.Account, error) {
	a, err := s.load(ctx, db, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	err = repo.ReserveQuestion(ctx, db, a.ID, s.Quota.DayOf(now), now, s.Quota.DailyLimit(a))
	switch {
	case errors.Is(err, repo.ErrQuotaExhausted):
		observability.QuotaDecisions.WithLabelValues("exhausted").Inc()
		return nil, ErrQuotaExceeded
	case err != nil:
		observability.QuotaDecisions.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.QuotaDecisions.WithLabelValues("accepted").Inc()
	return s.load(ctx, db, accountID)
}

// IncrementQuestion consumes one question from today's allowance.
func (s *AccountService) IncrementQuestion(ctx context.Context, accountID string) (*QuestionReceipt, error) {
	ctx, span := s.tracer().Start(ctx, "IncrementQuestion", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	var a *domain.Account
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		a, err = s.reserve(ctx, tx, accountID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrQuotaExceeded) {
			span.RecordError(err)
		}
		return nil, err
	}
	return &QuestionReceipt{
		QuestionCount:      a.QuestionCount,
		DailyQuestionCount: a.DailyQuestionCount,
		CanAskMore:         s.Quota.CanAsk(a),
		IsPremium:          a.IsPremium,
	}, nil
}

// CompleteProfile stores onboarding answers and marks the profile and
// onboarding complete. Age must be within 0..130 when given.
func (s *AccountService) CompleteProfile(ctx context.Context, accountID string, in ProfileInput) (*domain.Account, error) {
	ctx, span := s.tracer().Start(ctx, "CompleteProfile", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if in.Age != nil && (*in.Age < 0 || *in.Age > 130) {
		return nil, ErrInvalidProfile
	}

	fields := map[string]any{
		"profile_completed":    true,
		"onboarding_completed": true,
	}
	if in.Age != nil {
		fields["age"] = *in.Age
	}
	if in.Conditions != nil {
		fields["conditions"] = datatypes.NewJSONSlice(cleanList(in.Conditions))
	}
	if in.Symptoms != nil {
		fields["symptoms"] = datatypes.NewJSONSlice(cleanList(in.Symptoms))
	}
	if in.Medications != nil {
		fields["medications"] = datatypes.NewJSONSlice(cleanList(in.Medications))
	}
	if in.Preferences != nil {
		fields["preferences"] = datatypes.JSONMap(in.Preferences)
	}
	for col, v := range map[string]string{
		"first_name":         in.FirstName,
		"last_name":          in.LastName,
		"phone_number":       in.PhoneNumber,
		"location":           in.Location,
		"how_heard_about_us": in.HowHeardAboutUs,
	} {
		if v = strings.TrimSpace(v); v != "" {
			fields[col] = v
		}
	}

	if err := repo.UpdateAccountFields(ctx, s.DB, accountID, fields); err != nil {
		return nil, s.mapNotFound(err)
	}
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.enqueue(ContactJob(a))
	s.enqueue(EventJob(a, EventProfileCompleted, nil))
	return a, nil
}

// UpdatePreferences replaces preferences and, when non-nil, notification
// settings.
func (s *AccountService) UpdatePreferences(ctx context.Context, accountID string, prefs, notifications map[string]any) (*domain.Account, error) {
	ctx, span := s.tracer().Start(ctx, "UpdatePreferences", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if prefs == nil {
		prefs = map[string]any{}
	}
	fields := map[string]any{"preferences": datatypes.JSONMap(prefs)}
	if notifications != nil {
		fields["notification_settings"] = datatypes.JSONMap(notifications)
	}
	if err := repo.UpdateAccountFields(ctx, s.DB, accountID, fields); err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.Get(ctx, accountID)
}

// Deactivate soft-deletes the account. Later resolutions of the same
// subject fail with ErrAccountInactive.
func (s *AccountService) Deactivate(ctx context.Context, accountID string) error {
	ctx, span := s.tracer().Start(ctx, "Deactivate", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	if err := repo.SoftDeleteAccount(ctx, s.DB, accountID); err != nil {
		return s.mapNotFound(err)
	}
	log.Ctx(ctx).Info().Str("account_id", accountID).Msg("account deactivated")
	return nil
}

// SyncContact queues a CRM contact refresh for the account.
func (s *AccountService) SyncContact(ctx context.Context, accountID string) error {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}
	s.enqueue(ContactJob(a))
	return nil
}

func (s *AccountService) enqueue(job CRMJob) {
	if s.CRM == nil {
		return
	}
	s.CRM.Enqueue(job)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package handlers implements the HTTP endpoints of the API.
//
// Handlers are transport-thin: they read the authenticated account bound by
// the auth middleware, validate input, call application services and
// translate results and sentinel errors into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/auth"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/services"
	"github.com/tbourn/chatdys-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// AccountService covers account reads and writes used by the user and auth
// endpoints. *services.AccountService implements it.
type AccountService interface {
	Resolve(ctx context.Context, id domain.Identity) (*domain.Account, error)
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	Usage(ctx context.Context, accountID string) (*services.Usage, error)
	CheckPremium(ctx context.Context, accountID string) (*services.PremiumStatus, error)
	IncrementQuestion(ctx context.Context, accountID string) (*services.QuestionReceipt, error)
	CompleteProfile(ctx context.Context, accountID string, in services.ProfileInput) (*domain.Account, error)
	UpdatePreferences(ctx context.Context, accountID string, prefs, notifications map[string]any) (*domain.Account, error)
	Deactivate(ctx context.Context, accountID string) error
}

// QuestionService answers questions. *services.QuestionService implements it.
type QuestionService interface {
	Ask(ctx context.Context, in services.QuestionInput) (*services.QuestionResult, error)
}

// LedgerService reads and edits conversations. *services.LedgerService
// implements it.
type LedgerService interface {
	List(ctx context.Context, accountID string, page, pageSize int) ([]domain.Conversation, int64, error)
	Get(ctx context.Context, accountID, conversationID string) (*services.ConversationDetail, error)
	Delete(ctx context.Context, accountID, conversationID string) error
	UpdateTitle(ctx context.Context, accountID, conversationID, title string) (*domain.Conversation, error)
}

// FeedbackService stores ratings of assistant answers.
type FeedbackService interface {
	Rate(ctx context.Context, a *domain.Account, messageID string, value int, comment string) (*domain.Feedback, bool, error)
}

// BillingService covers the payment endpoints. *services.BillingService
// implements it.
type BillingService interface {
	CreateCheckout(ctx context.Context, accountID string, in services.CheckoutInput) (string, error)
	CreatePortal(ctx context.Context, accountID, returnURL string) (string, error)
	Status(ctx context.Context, accountID string) (*services.SubscriptionInfo, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (services.SyncOutcome, error)
}

// CRMService runs CRM jobs synchronously for the sync endpoints.
// *services.CRMDispatcher implements it.
type CRMService interface {
	Enabled() bool
	SyncNow(ctx context.Context, job services.CRMJob) services.CRMResult
}

//
// Handler wiring
//

// Deps are the services behind the endpoints. Nil Billing or CRM services
// make the matching endpoints report "not configured".
type Deps struct {
	Accounts  AccountService
	Questions QuestionService
	Ledger    LedgerService
	Feedback  FeedbackService
	Billing   BillingService
	CRM       CRMService

	// MaxQuestionRunes is quoted in "question too long" errors; zero uses
	// services.DefaultMaxQuestionRunes.
	MaxQuestionRunes int

	// Ping checks the database for /health; nil skips the check.
	Ping func(ctx context.Context) error
	// Service and Version are reported by /health.
	Service string
	Version string

	// Now is the clock used for response timestamps; nil means time.Now.
	Now func() time.Time
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	accounts  AccountService
	questions QuestionService
	ledger    LedgerService
	fbSvc     FeedbackService
	billing   BillingService
	crm       CRMService
	maxRunes  int
	ping      func(ctx context.Context) error
	service   string
	version   string
	now       func() time.Time
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	maxRunes := d.MaxQuestionRunes
	if maxRunes <= 0 {
		maxRunes = services.DefaultMaxQuestionRunes
	}
	return &Handlers{
		accounts:  d.Accounts,
		questions: d.Questions,
		ledger:    d.Ledger,
		fbSvc:     d.Feedback,
		billing:   d.Billing,
		crm:       d.CRM,
		maxRunes:  maxRunes,
		ping:      d.Ping,
		service:   d.Service,
		version:   d.Version,
		now:       now,
	}
}

// account returns the account bound by the auth middleware. A missing
// account aborts with 401 and reports false.
func account(c *gin.Context) (*domain.Account, bool) {
	a, ok := auth.Account(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return nil, false
	}
	return a, true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// MessageResponse is the plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message" example:"Account deleted successfully"`
}

//
// Helpers
//

// clampPagination reads page/page_size (or legacy limit/offset) from the
// query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.PageQuery{
		Page:     c.Query("page"),
		PageSize: c.Query("page_size"),
		Limit:    c.Query("limit"),
		Offset:   c.Query("offset"),
	}.Resolve()
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

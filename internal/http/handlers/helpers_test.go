package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chatdys-backend/internal/auth"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/repo"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, id string, mutate func(a *domain.Account)) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:                 id,
		Auth0Sub:           "auth0|" + id,
		Email:              id + "@example.com",
		Name:               "Test " + id,
		SubscriptionStatus: domain.StatusFree,
		IsActive:           true,
	}
	if mutate != nil {
		mutate(a)
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func newAccountService(db *gorm.DB, now func() time.Time) *services.AccountService {
	return &services.AccountService{
		DB:         db,
		Quota:      &services.QuotaEngine{FreeDailyLimit: 5, PremiumDailyLimit: 1000, Location: time.UTC, Now: now},
		SessionGap: 30 * time.Minute,
	}
}

// ---------- router helpers ----------

// newRouter returns a test engine whose requests are authenticated as a.
// A nil account leaves requests anonymous.
func newRouter(a *domain.Account) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if a != nil {
			auth.SetAccount(c, a)
		}
		c.Next()
	})
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code=%q want %q", er.Code, code)
	}
	if er.RequestID != "rid-test" {
		t.Fatalf("request_id=%q", er.RequestID)
	}
	return er
}

// ---------- stubs ----------

type stubAccounts struct {
	resolve   func(ctx context.Context, id domain.Identity) (*domain.Account, error)
	get       func(ctx context.Context, accountID string) (*domain.Account, error)
	increment func(ctx context.Context, accountID string) (*services.QuestionReceipt, error)
}

func (s stubAccounts) Resolve(ctx context.Context, id domain.Identity) (*domain.Account, error) {
	return s.resolve(ctx, id)
}
func (s stubAccounts) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.get(ctx, accountID)
}
func (stubAccounts) Usage(context.Context, string) (*services.Usage, error) { return nil, nil }
func (stubAccounts) CheckPremium(context.Context, string) (*services.PremiumStatus, error) {
	return nil, nil
}
func (s stubAccounts) IncrementQuestion(ctx context.Context, accountID string) (*services.QuestionReceipt, error) {
	return s.increment(ctx, accountID)
}
func (stubAccounts) CompleteProfile(context.Context, string, services.ProfileInput) (*domain.Account, error) {
	return nil, nil
}
func (stubAccounts) UpdatePreferences(context.Context, string, map[string]any, map[string]any) (*domain.Account, error) {
	return nil, nil
}
func (stubAccounts) Deactivate(context.Context, string) error { return nil }

type stubFBSvc struct {
	fn func(ctx context.Context, a *domain.Account, messageID string, value int, comment string) (*domain.Feedback, bool, error)
}

func (s stubFBSvc) Rate(ctx context.Context, a *domain.Account, messageID string, value int, comment string) (*domain.Feedback, bool, error) {
	return s.fn(ctx, a, messageID, value, comment)
}

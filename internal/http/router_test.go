package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/tbourn/chatdys-backend/internal/answer"
	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/http/handlers"
	"github.com/tbourn/chatdys-backend/internal/http/middleware"
	"github.com/tbourn/chatdys-backend/internal/repo"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
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
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newServices wires the real services over db with the canned fallback as
// the only answer provider.
func newServices(db *gorm.DB) Services {
	accounts := &services.AccountService{
		DB:         db,
		Quota:      &services.QuotaEngine{FreeDailyLimit: 5, PremiumDailyLimit: 1000, Location: time.UTC},
		SessionGap: 30 * time.Minute,
	}
	ledger := &services.LedgerService{DB: db, Accounts: accounts}
	return Services{
		Accounts: accounts,
		Ledger:   ledger,
		Feedback: &services.FeedbackService{DB: db},
		Questions: &services.QuestionService{
			DB:               db,
			Accounts:         accounts,
			Ledger:           ledger,
			Provider:         answer.NewFallback(answer.DefaultTopics, nil, 0.08),
			Timeout:          5 * time.Second,
			MaxQuestionRunes: 2000,
			IdempotencyTTL:   time.Hour,
		},
		Version: "test",
	}
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Auth0:       config.Auth0Config{Disabled: true},
		Quota:       config.QuotaConfig{MaxQuestionRunes: 2000},
		Environment: "test",
	}
}

func newEngine(t *testing.T, cfg config.Config, mutate func(s *Services)) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	svc := newServices(db)
	if mutate != nil {
		mutate(&svc)
	}
	r := gin.New()
	RegisterRoutes(r, db, svc, cfg)
	return r, db
}

func serve(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return er.Code
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), nil)

	// /health works and reports the database
	w := serve(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	var health handlers.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("json: %v", err)
	}
	if health.Status != "healthy" || health.Database != "ok" || health.Version != "test" {
		t.Fatalf("unexpected health: %+v", health)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = serve(r, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound || errorCode(t, w) != handlers.ErrCodeNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = serve(r, http.MethodPost, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newEngine(t, cfg, nil)

	// Any request runs through CORS middleware; header should reflect origin.
	w := serve(r, http.MethodGet, "/health", "", "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "http://evil.example" {
		t.Fatalf("origin outside allowlist was echoed")
	}
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, string) (domain.Identity, error) {
	return domain.Identity{}, errors.New("signature is invalid")
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth0.Disabled = false

	r, _ := newEngine(t, cfg, func(s *Services) { s.Verifier = rejectingVerifier{} })
	w := serve(r, http.MethodGet, "/api/user/session", "")
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != handlers.ErrCodeUnauthorized {
		t.Fatalf("no token: status=%d body=%s", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodGet, "/api/user/session", "", "Authorization", "Bearer abc.def.ghi")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status=%d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID on auth failures")
	}

	// No verifier configured → identity provider unavailable
	r, _ = newEngine(t, cfg, nil)
	w = serve(r, http.MethodGet, "/api/user/session", "", "Authorization", "Bearer abc.def.ghi")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no verifier: status=%d", w.Code)
	}
}

func TestWebhook_IsPublic(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth0.Disabled = false
	r, _ := newEngine(t, cfg, nil)

	// No bearer token, no billing: the webhook still reaches its handler.
	w := serve(r, http.MethodPost, "/api/payments/webhook", `{}`, handlers.HeaderStripeSignature, "t=1,v1=x")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != handlers.ErrCodeBillingNotConfigured {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestDevAuth_SessionAndQuery(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), nil)

	w := serve(r, http.MethodGet, "/api/user/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("session: status=%d body=%s", w.Code, w.Body.String())
	}
	var session handlers.SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("json: %v", err)
	}
	if session.ID != "local-dev" || session.SubscriptionStatus != domain.StatusFree {
		t.Fatalf("unexpected session: %+v", session)
	}

	w = serve(r, http.MethodPost, "/api/query", `{"question":"What is POTS?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query: status=%d body=%s", w.Code, w.Body.String())
	}
	var res services.QuestionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if res.Answer == "" || res.ConversationID == "" || res.MessageID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Free accounts cannot list history
	w = serve(r, http.MethodGet, "/api/conversations", "")
	if w.Code != http.StatusForbidden || errorCode(t, w) != handlers.ErrCodePremiumRequired {
		t.Fatalf("list: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestQuery_IdempotentReplay_BypassesQuotaAndRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 2
	r, db := newEngine(t, cfg, nil)

	const key = "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"
	first := serve(r, http.MethodPost, "/api/query", `{"question":"Does salt help?"}`, middleware.HeaderIdempotencyKey, key)
	if first.Code != http.StatusOK {
		t.Fatalf("first: status=%d body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get(handlers.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first answer marked as replay")
	}

	second := serve(r, http.MethodPost, "/api/query", `{"question":"Does salt help?"}`, middleware.HeaderIdempotencyKey, key)
	if second.Code != http.StatusOK || second.Header().Get(handlers.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("second: status=%d replayed=%q", second.Code, second.Header().Get(handlers.HeaderIdempotencyReplayed))
	}

	var a, b services.QuestionResult
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.MessageID != b.MessageID || a.Answer != b.Answer {
		t.Fatalf("replay differs: %+v vs %+v", a, b)
	}

	acct, err := repo.GetAccount(context.Background(), db, "local-dev")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.DailyQuestionCount != 1 {
		t.Fatalf("replay consumed quota: daily=%d", acct.DailyQuestionCount)
	}

	// The replay did not take a token: one is left for a new request.
	if w := serve(r, http.MethodGet, "/api/user/usage", ""); w.Code != http.StatusOK {
		t.Fatalf("usage: status=%d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/user/usage", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", w.Code)
	}

	// Malformed keys are rejected before the handler.
	w := serve(r, http.MethodPost, "/api/query", `{"question":"q"}`, middleware.HeaderIdempotencyKey, "has space")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: status=%d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", "0123456789AB") // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, http.MethodGet, path, "")
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_handlerDeps_NilServicesStayNil(t *testing.T) {
	d := handlerDeps(nil, Services{}, baseConfig())
	if d.Billing != nil || d.CRM != nil || d.Accounts != nil || d.Ping != nil {
		t.Fatalf("nil services should map to nil interfaces: %+v", d)
	}
}

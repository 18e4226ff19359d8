// Package httpapi mounts the ChatDys API on Gin: middleware order, route
// table, CORS, Swagger and the metrics endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/auth"
	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/http/handlers"
	"github.com/tbourn/chatdys-backend/internal/http/middleware"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// Services are the application services mounted by RegisterRoutes. Billing
// and CRM may be nil; their endpoints then report "not configured".
type Services struct {
	Accounts  *services.AccountService
	Questions *services.QuestionService
	Ledger    *services.LedgerService
	Feedback  *services.FeedbackService
	Billing   *services.BillingService
	CRM       *services.CRMDispatcher

	// Verifier checks bearer tokens. Nil answers 503 on protected routes
	// unless authentication is disabled in config.
	Verifier auth.TokenVerifier

	// Version is reported by /health.
	Version string
}

var corsHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderIdempotencyKey, handlers.HeaderStripeSignature,
}

var corsExpose = []string{
	"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotencyReplayed,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, and then mounts the API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip responses
//  7. Metrics
//  8. CORS and Security headers
//
// Protected routes then run:
//  9. Authentication (token → account)
//  10. Idempotency (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per account/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; headers and query strings are scrubbed outside
	// local development
	if cfg.Environment == "development" {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{middleware.HeaderIdempotencyKey},
		}))
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); the webhook applies its own cap
	r.Use(limitBody(1 << 20))

	// 6) Compress responses
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	useCORS(r, cfg.CORS)

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Responses carry health data: private, but revalidatable for ETags.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: middleware.CachePrivateRevalidate,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(handlerDeps(db, svc, cfg))

	// Liveness/health
	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	apiBase := cfg.APIBasePath // e.g. "/api"
	api := groupWithPrefix(r, apiBase)

	// Public: authenticated by signature, not by token
	api.POST("/payments/webhook", h.StripeWebhook)

	// Protected API
	verifier := svc.Verifier
	var resolver auth.AccountResolver
	if svc.Accounts != nil {
		resolver = svc.Accounts
	}
	var lookup middleware.IdempotencyLookup
	if svc.Questions != nil {
		lookup = svc.Questions.Replayable
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	p := api.Group("")
	p.Use(
		auth.Middleware(verifier, resolver, auth.MiddlewareConfig{
			Disabled: cfg.Auth0.Disabled,
			Fail:     handlers.Fail,
		}),
		middleware.Idempotency(middleware.IdempotencyOptions{MaxLen: 200, Lookup: lookup}),
		rl.Handler(),
	)
	{
		// Auth
		p.POST("/auth/validate-token", h.ValidateToken)
		p.GET("/auth/user-info", h.UserInfo)
		p.POST("/auth/refresh-user", h.RefreshUser)
		p.GET("/auth/check-auth", h.CheckAuth)

		// Account
		p.GET("/user/session", h.GetSession)
		p.GET("/user/profile", h.GetProfile)
		p.POST("/user/increment-question", h.IncrementQuestion)
		p.POST("/user/complete-profile", h.CompleteProfile)
		p.PUT("/user/preferences", h.UpdatePreferences)
		p.GET("/user/usage", h.GetUsage)
		p.DELETE("/user/account", h.DeleteAccount)
		p.GET("/user/check-premium", h.CheckPremium)

		// Questions and history
		p.POST("/query", h.Query)
		p.GET("/conversations", h.ListConversations)
		p.GET("/conversations/:id", h.GetConversation)
		p.DELETE("/conversations/:id", h.DeleteConversation)
		p.PUT("/conversations/:id/title", h.UpdateConversationTitle)

		// Feedback
		p.POST("/messages/:id/feedback", h.LeaveFeedback)

		// Payments
		p.POST("/payments/create-checkout-session", h.CreateCheckoutSession)
		p.POST("/payments/create-portal-session", h.CreatePortalSession)
		p.GET("/payments/subscription-status", h.SubscriptionStatus)

		// CRM
		p.POST("/hubspot/sync-contact", h.SyncContact)
		p.POST("/hubspot/sync-current-user", h.SyncCurrentUser)
		p.POST("/hubspot/track-event", h.TrackEvent)
		p.GET("/hubspot/sync-status", h.SyncStatus)
	}
}

// handlerDeps converts the concrete services into handler contracts. Nil
// pointers stay nil interfaces so handlers can detect missing services.
func handlerDeps(db *gorm.DB, svc Services, cfg config.Config) handlers.Deps {
	d := handlers.Deps{
		MaxQuestionRunes: cfg.Quota.MaxQuestionRunes,
		Service:          cfg.OTEL.ServiceName,
		Version:          svc.Version,
	}
	if svc.Accounts != nil {
		d.Accounts = svc.Accounts
	}
	if svc.Questions != nil {
		d.Questions = svc.Questions
	}
	if svc.Ledger != nil {
		d.Ledger = svc.Ledger
	}
	if svc.Feedback != nil {
		d.Feedback = svc.Feedback
	}
	if svc.Billing != nil {
		d.Billing = svc.Billing
	}
	if svc.CRM != nil {
		d.CRM = svc.CRM
	}
	if db != nil {
		d.Ping = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return d
}

// useCORS installs gin-contrib/cors. With no configured origins every origin
// is allowed without credentials; otherwise only the allowlist is echoed.
func useCORS(r *gin.Engine, c config.CORSConfig) {
	if len(c.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     c.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    corsExpose,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

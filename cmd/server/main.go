// Command server runs the ChatDys backend HTTP API.
//
// @title                       ChatDys API
// @version                     2.0.0
// @description                 Backend for the ChatDys dysautonomia assistant: accounts, daily question quota, conversations, payments and CRM sync.
// @BasePath                    /api
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/chatdys-backend/docs"
	"github.com/tbourn/chatdys-backend/internal/answer"
	"github.com/tbourn/chatdys-backend/internal/auth"
	"github.com/tbourn/chatdys-backend/internal/billing"
	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/crm"
	httpapi "github.com/tbourn/chatdys-backend/internal/http"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"
	"github.com/tbourn/chatdys-backend/internal/search"
	"github.com/tbourn/chatdys-backend/internal/services"
	"github.com/tbourn/chatdys-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "2.0.0"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("service", cfg.OTEL.ServiceName).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// CRM: workers run for the life of the process; Close drains them.
	hubspot := crm.NewClient(cfg.HubSpot)
	dispatcher := services.NewCRMDispatcher(hubspot, db, cfg.HubSpot)
	dispatcher.Start(ctx)
	defer dispatcher.Close()
	if !dispatcher.Enabled() {
		log.Info().Msg("hubspot not configured; CRM sync disabled")
	}

	quota := services.NewQuotaEngine(cfg.Quota)
	accounts := &services.AccountService{
		DB:         db,
		Quota:      quota,
		SessionGap: cfg.Quota.LoginSessionGap,
		CRM:        dispatcher,
	}
	ledger := &services.LedgerService{DB: db, Accounts: accounts}

	questions := &services.QuestionService{
		DB:               db,
		Accounts:         accounts,
		Ledger:           ledger,
		Provider:         answerProvider(cfg),
		Timeout:          cfg.OpenAI.Timeout,
		MaxQuestionRunes: cfg.Quota.MaxQuestionRunes,
		HistoryLimit:     services.DefaultHistoryLimit,
		IdempotencyTTL:   cfg.IdempotencyTTL,
	}
	go questions.PurgeExpiredKeys(ctx, time.Hour)

	gateway := billing.NewGateway(cfg.Stripe, "", nil)
	if !gateway.Enabled() {
		log.Info().Msg("stripe not configured; payment endpoints will answer 503")
	}
	billingSvc := &services.BillingService{
		DB:       db,
		Accounts: accounts,
		Gateway:  gateway,
		Sync: &services.SubscriptionSync{
			DB:            db,
			PremiumPeriod: cfg.Quota.PremiumPeriod,
			CRM:           dispatcher,
		},
	}

	svc := httpapi.Services{
		Accounts:  accounts,
		Questions: questions,
		Ledger:    ledger,
		Feedback:  &services.FeedbackService{DB: db, CRM: dispatcher},
		Billing:   billingSvc,
		CRM:       dispatcher,
		Version:   version,
	}
	if cfg.Auth0.Disabled {
		log.Warn().Msg("authentication disabled; every request runs as the local developer")
	} else {
		verifier, err := auth.NewVerifier(cfg.Auth0)
		if err != nil {
			return err
		}
		svc.Verifier = verifier
	}

	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, svc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// answerProvider chains the language model (when configured) with the canned
// topic answers.
func answerProvider(cfg config.Config) answer.Provider {
	var extra []search.Doc
	if cfg.FallbackTopicsPath != "" {
		topics, err := search.LoadMarkdownTopics(cfg.FallbackTopicsPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.FallbackTopicsPath).Msg("fallback topics not loaded")
		} else {
			extra = topics
		}
	}
	fallback := answer.NewFallback(answer.DefaultTopics, extra, cfg.FallbackThreshold)

	model := answer.NewOpenAI(cfg.OpenAI)
	if model == nil {
		log.Info().Msg("openai not configured; answering from fallback topics")
		return fallback
	}
	return answer.Chain{Primary: model, Fallback: fallback}
}

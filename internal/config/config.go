// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, identity,
// billing, language-model and CRM integrations, quota policy and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/chatdys-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DBConfig configures the SQLite store.
type DBConfig struct {
	Path         string        // DB_PATH
	MaxOpenConns int           // DB_MAX_OPEN_CONNS
	BusyTimeout  time.Duration // DB_BUSY_TIMEOUT, applied per connection
	SlowQuery    time.Duration // DB_SLOW_QUERY, statements at or above are logged
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	Headers     string  // OTEL_EXPORTER_OTLP_HEADERS ("k1=v1,k2=v2")
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "chatdys-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // copied from ENVIRONMENT
}

// Auth0Config defines the identity provider settings used to verify bearer tokens.
type Auth0Config struct {
	Domain      string        // AUTH0_DOMAIN (e.g. "tenant.us.auth0.com")
	Audience    string        // AUTH0_AUDIENCE
	Issuer      string        // AUTH0_ISSUER, derived from Domain when empty
	JWKSURL     string        // AUTH0_JWKS_URL, derived from Issuer when empty
	JWKSTimeout time.Duration // AUTH0_JWKS_TIMEOUT
	Disabled    bool          // AUTH_DISABLED (local development only)
}

// StripeConfig defines payment-processor settings. An empty SecretKey disables
// checkout and portal sessions; an empty WebhookSecret disables the webhook.
type StripeConfig struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	PriceID       string // STRIPE_PRICE_ID (monthly premium price)
	FrontendURL   string // FRONTEND_URL, used for success/cancel/return URLs
}

// OpenAIConfig defines the language-model settings for the answer provider.
// An empty APIKey routes every question to the fallback answers.
type OpenAIConfig struct {
	APIKey        string        // OPENAI_API_KEY
	BaseURL       string        // OPENAI_BASE_URL (optional, OpenAI-compatible endpoint)
	Model         string        // OPENAI_MODEL
	MaxTokens     int           // OPENAI_MAX_TOKENS
	Temperature   float64       // OPENAI_TEMPERATURE
	Timeout       time.Duration // OPENAI_TIMEOUT
	HistoryWindow int           // OPENAI_HISTORY_WINDOW (turns forwarded as context)
}

// HubSpotConfig defines CRM synchronization settings. An empty AccessToken
// disables CRM sync; requests then report "not configured".
type HubSpotConfig struct {
	AccessToken string        // HUBSPOT_ACCESS_TOKEN
	PortalID    string        // HUBSPOT_PORTAL_ID
	BaseURL     string        // HUBSPOT_BASE_URL
	Timeout     time.Duration // HUBSPOT_TIMEOUT
	Workers     int           // HUBSPOT_WORKERS
	QueueSize   int           // HUBSPOT_QUEUE_SIZE
}

// QuotaConfig defines the daily question policy.
type QuotaConfig struct {
	FreeDailyLimit    int           // FREE_USER_DAILY_LIMIT
	PremiumDailyLimit int           // PREMIUM_USER_DAILY_LIMIT (display ceiling)
	PremiumPeriod     time.Duration // PREMIUM_PERIOD granted on checkout
	Timezone          string        // QUOTA_TIMEZONE, calendar used for day rollover
	MaxQuestionRunes  int           // MAX_QUESTION_RUNES
	LoginSessionGap   time.Duration // LOGIN_SESSION_GAP, idle time that starts a new login
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s (answers can take a while)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	Environment       string        // development|production

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB                 DBConfig
	FallbackTopicsPath string  // optional markdown with extra fallback paragraphs
	FallbackThreshold  float64 // minimum Jaccard score for a paragraph match [0,1]

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Integrations
	Auth0   Auth0Config
	Stripe  StripeConfig
	OpenAI  OpenAIConfig
	HubSpot HubSpotConfig

	// Policy
	Quota QuotaConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		Environment:       strings.ToLower(getenv("ENVIRONMENT", "development")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		DB: DBConfig{
			Path:         getenv("DB_PATH", "chatdys.db"),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 10),
			BusyTimeout:  getdur("DB_BUSY_TIMEOUT", 5*time.Second),
			SlowQuery:    getdur("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		FallbackTopicsPath: getenv("FALLBACK_TOPICS_PATH", ""),
		FallbackThreshold:  getfloat("FALLBACK_THRESHOLD", 0.08),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Integrations
		Auth0: Auth0Config{
			Domain:      strings.TrimSpace(getenv("AUTH0_DOMAIN", "")),
			Audience:    strings.TrimSpace(getenv("AUTH0_AUDIENCE", "")),
			Issuer:      strings.TrimSpace(getenv("AUTH0_ISSUER", "")),
			JWKSURL:     strings.TrimSpace(getenv("AUTH0_JWKS_URL", "")),
			JWKSTimeout: getdur("AUTH0_JWKS_TIMEOUT", 10*time.Second),
			Disabled:    getbool("AUTH_DISABLED", false),
		},
		Stripe: StripeConfig{
			SecretKey:     getenv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:       getenv("STRIPE_PRICE_ID", ""),
			FrontendURL:   strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
		},
		OpenAI: OpenAIConfig{
			APIKey:        getenv("OPENAI_API_KEY", ""),
			BaseURL:       getenv("OPENAI_BASE_URL", ""),
			Model:         getenv("OPENAI_MODEL", "gpt-4"),
			MaxTokens:     getint("OPENAI_MAX_TOKENS", 1000),
			Temperature:   getfloat("OPENAI_TEMPERATURE", 0.7),
			Timeout:       getdur("OPENAI_TIMEOUT", 30*time.Second),
			HistoryWindow: getint("OPENAI_HISTORY_WINDOW", 6),
		},
		HubSpot: HubSpotConfig{
			AccessToken: getenv("HUBSPOT_ACCESS_TOKEN", ""),
			PortalID:    getenv("HUBSPOT_PORTAL_ID", ""),
			BaseURL:     strings.TrimRight(getenv("HUBSPOT_BASE_URL", "https://api.hubapi.com"), "/"),
			Timeout:     getdur("HUBSPOT_TIMEOUT", 10*time.Second),
			Workers:     getint("HUBSPOT_WORKERS", 2),
			QueueSize:   getint("HUBSPOT_QUEUE_SIZE", 256),
		},

		// Policy
		Quota: QuotaConfig{
			FreeDailyLimit:    getint("FREE_USER_DAILY_LIMIT", 5),
			PremiumDailyLimit: getint("PREMIUM_USER_DAILY_LIMIT", 1000),
			PremiumPeriod:     getdur("PREMIUM_PERIOD", 30*24*time.Hour),
			Timezone:          getenv("QUOTA_TIMEZONE", "UTC"),
			MaxQuestionRunes:  getint("MAX_QUESTION_RUNES", 2000),
			LoginSessionGap:   getdur("LOGIN_SESSION_GAP", 30*time.Minute),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			Headers:     getenv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName: getenv("OTEL_SERVICE_NAME", "chatdys-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.validate()
}

func (cfg *Config) normalize() {
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.OTEL.Environment = cfg.Environment

	a := &cfg.Auth0
	if a.Issuer == "" && a.Domain != "" {
		host := strings.TrimSuffix(strings.TrimPrefix(a.Domain, "https://"), "/")
		a.Issuer = "https://" + host + "/"
	}
	if a.Issuer != "" && !strings.HasSuffix(a.Issuer, "/") {
		a.Issuer += "/"
	}
	if a.JWKSURL == "" && a.Issuer != "" {
		a.JWKSURL = a.Issuer + ".well-known/jwks.json"
	}
}

// validate reports every invalid setting at once.
func (cfg Config) validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(cfg.DB.MaxOpenConns < 1, "DB_MAX_OPEN_CONNS must be >= 1")
	check(cfg.DB.BusyTimeout < 0, "DB_BUSY_TIMEOUT must be >= 0")
	check(cfg.FallbackThreshold < 0 || cfg.FallbackThreshold > 1, "FALLBACK_THRESHOLD must be between 0 and 1")
	check(cfg.RateRPS < 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst < 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")

	check(!cfg.Auth0.Disabled && (cfg.Auth0.Issuer == "" || cfg.Auth0.Audience == ""),
		"AUTH0_DOMAIN (or AUTH0_ISSUER) and AUTH0_AUDIENCE must be set unless AUTH_DISABLED=true")
	check(cfg.Auth0.Disabled && cfg.Environment == "production", "AUTH_DISABLED is not allowed when ENVIRONMENT=production")
	check(cfg.Auth0.JWKSTimeout <= 0, "AUTH0_JWKS_TIMEOUT must be > 0")

	check(cfg.OpenAI.MaxTokens <= 0, "OPENAI_MAX_TOKENS must be > 0")
	check(cfg.OpenAI.Temperature < 0 || cfg.OpenAI.Temperature > 2, "OPENAI_TEMPERATURE must be in [0,2]")
	check(cfg.OpenAI.Timeout <= 0 || cfg.HubSpot.Timeout <= 0, "provider timeouts must be positive durations")
	check(cfg.OpenAI.HistoryWindow < 0, "OPENAI_HISTORY_WINDOW must be >= 0")
	check(cfg.HubSpot.Workers < 1 || cfg.HubSpot.QueueSize < 1, "HUBSPOT_WORKERS and HUBSPOT_QUEUE_SIZE must be >= 1")

	q := cfg.Quota
	check(q.FreeDailyLimit < 0, "FREE_USER_DAILY_LIMIT must be >= 0")
	check(q.PremiumDailyLimit < q.FreeDailyLimit, "PREMIUM_USER_DAILY_LIMIT must be >= FREE_USER_DAILY_LIMIT")
	check(q.PremiumPeriod <= 0, "PREMIUM_PERIOD must be > 0")
	if _, err := time.LoadLocation(q.Timezone); err != nil {
		errs = append(errs, errors.New("QUOTA_TIMEZONE must be a valid IANA time zone"))
	}
	check(q.MaxQuestionRunes <= 0, "MAX_QUESTION_RUNES must be > 0")
	check(cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// Location returns the quota calendar location. Load has already validated it,
// so a failure here falls back to UTC.
func (q QuotaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- env readers ----
//
// Values are trimmed; blank counts as unset. A value that fails to parse
// falls back to the default.

var errNotBool = errors.New("not a boolean")

func lookup(k string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(k))
	return v, v != ""
}

func parsed[T any](k string, def T, parse func(string) (T, error)) T {
	if v, ok := lookup(k); ok {
		if x, err := parse(v); err == nil {
			return x
		}
	}
	return def
}

func getenv(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}

func getint(k string, def int) int { return parsed(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return parsed(k, def, time.ParseDuration) }

func getfloat(k string, def float64) float64 {
	return parsed(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getbool(k string, def bool) bool {
	return parsed(k, def, func(v string) (bool, error) {
		if b, ok := sysutil.ParseBool(v); ok {
			return b, nil
		}
		return false, errNotBool
	})
}

// splitCSV splits a comma list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// blank means root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}

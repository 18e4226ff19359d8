package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "AUTH0_DOMAIN", "AUTH0_AUDIENCE", "AUTH0_ISSUER", "AUTH0_JWKS_URL", "AUTH_DISABLED", "ENVIRONMENT", "LOG_LEVEL", "DB_PATH"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// withIdentity sets the minimum identity settings so Load can succeed.
func withIdentity(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_DOMAIN", "tenant.example.auth0.com")
	t.Setenv("AUTH0_AUDIENCE", "https://api.chatdys.test")
}

func TestLoad_Defaults(t *testing.T) {
	withIdentity(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "/api", cfg.APIBasePath)
	assert.Equal(t, DBConfig{Path: "chatdys.db", MaxOpenConns: 10, BusyTimeout: 5 * time.Second, SlowQuery: 200 * time.Millisecond}, cfg.DB)
	assert.Nil(t, cfg.CORS.AllowedOrigins)

	assert.Equal(t, "gpt-4", cfg.OpenAI.Model)
	assert.Equal(t, 1000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 6, cfg.OpenAI.HistoryWindow)
	assert.Equal(t, "https://api.hubapi.com", cfg.HubSpot.BaseURL)
	assert.Equal(t, 2, cfg.HubSpot.Workers)
	assert.Equal(t, "http://localhost:3000", cfg.Stripe.FrontendURL)

	assert.Equal(t, 5, cfg.Quota.FreeDailyLimit)
	assert.Equal(t, 1000, cfg.Quota.PremiumDailyLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Quota.PremiumPeriod)
	assert.Equal(t, time.UTC, cfg.Quota.Location())

	assert.False(t, cfg.OTEL.Enabled)
	assert.Equal(t, "development", cfg.OTEL.Environment)
}

func TestLoad_Overrides(t *testing.T) {
	withIdentity(t)
	env := map[string]string{
		"PORT":                        "8088",
		"READ_TIMEOUT":                "2s",
		"WRITE_TIMEOUT":               "90s",
		"GIN_MODE":                    "weird",
		"LOG_LEVEL":                   "WARNING",
		"LOG_PRETTY":                  "yes",
		"SWAGGER_ENABLED":             " on ",
		"API_BASE_PATH":               "api/v1/",
		"ENVIRONMENT":                 "Staging",
		"DB_PATH":                     "/var/lib/chatdys/app.db",
		"DB_MAX_OPEN_CONNS":           "3",
		"DB_SLOW_QUERY":               "1s",
		"RATE_RPS":                    "x",
		"RATE_BURST":                  "nope",
		"CORS_ALLOWED_ORIGINS":        " https://chatdys.com , , http://localhost:3000 ",
		"ENABLE_HSTS":                 "TRUE",
		"HSTS_MAX_AGE":                "24h",
		"FRONTEND_URL":                "https://chatdys.com/",
		"FREE_USER_DAILY_LIMIT":       "3",
		"PREMIUM_USER_DAILY_LIMIT":    "500",
		"QUOTA_TIMEZONE":              "America/New_York",
		"OTEL_ENABLED":                "1",
		"OTEL_EXPORTER_OTLP_INSECURE": "0",
		"OTEL_EXPORTER_OTLP_HEADERS":  "api-key=abc",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8088", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 90*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
	assert.True(t, cfg.SwaggerEnabled)
	assert.Equal(t, "/api/v1", cfg.APIBasePath)
	assert.Equal(t, "staging", cfg.Environment)

	assert.Equal(t, "/var/lib/chatdys/app.db", cfg.DB.Path)
	assert.Equal(t, 3, cfg.DB.MaxOpenConns)
	assert.Equal(t, time.Second, cfg.DB.SlowQuery)

	// Unparseable numbers keep their defaults.
	assert.Equal(t, 5.0, cfg.RateRPS)
	assert.Equal(t, 10, cfg.RateBurst)

	assert.Equal(t, []string{"https://chatdys.com", "http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Security.EnableHSTS)
	assert.Equal(t, 24*time.Hour, cfg.Security.HSTSMaxAge)
	assert.Equal(t, "https://chatdys.com", cfg.Stripe.FrontendURL)

	assert.Equal(t, 3, cfg.Quota.FreeDailyLimit)
	assert.Equal(t, 500, cfg.Quota.PremiumDailyLimit)
	assert.Equal(t, "America/New_York", cfg.Quota.Location().String())

	assert.True(t, cfg.OTEL.Enabled)
	assert.False(t, cfg.OTEL.Insecure)
	assert.Equal(t, "api-key=abc", cfg.OTEL.Headers)
	assert.Equal(t, 0.25, cfg.OTEL.SampleRatio)
	assert.Equal(t, "staging", cfg.OTEL.Environment)
}

func TestLoad_IdentityURLs(t *testing.T) {
	cases := []struct {
		name, domain, issuer, jwks string
		wantIssuer, wantJWKS       string
	}{
		{"from bare domain", "tenant.auth0.com", "", "", "https://tenant.auth0.com/", "https://tenant.auth0.com/.well-known/jwks.json"},
		{"from url domain", "https://tenant.auth0.com/", "", "", "https://tenant.auth0.com/", "https://tenant.auth0.com/.well-known/jwks.json"},
		{"explicit issuer gains slash", "", "https://login.chatdys.com", "", "https://login.chatdys.com/", "https://login.chatdys.com/.well-known/jwks.json"},
		{"explicit jwks kept", "tenant.auth0.com", "", "https://keys.chatdys.com/jwks", "https://tenant.auth0.com/", "https://keys.chatdys.com/jwks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AUTH0_AUDIENCE", "aud")
			t.Setenv("AUTH0_DOMAIN", tc.domain)
			t.Setenv("AUTH0_ISSUER", tc.issuer)
			t.Setenv("AUTH0_JWKS_URL", tc.jwks)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tc.wantIssuer, cfg.Auth0.Issuer)
			assert.Equal(t, tc.wantJWKS, cfg.Auth0.JWKSURL)
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		key, val, want string
	}{
		{"LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"DB_MAX_OPEN_CONNS", "0", "DB_MAX_OPEN_CONNS"},
		{"DB_BUSY_TIMEOUT", "-1s", "DB_BUSY_TIMEOUT"},
		{"FALLBACK_THRESHOLD", "1.5", "FALLBACK_THRESHOLD"},
		{"RATE_RPS", "-1", "RATE_RPS"},
		{"RATE_BURST", "0", "RATE_BURST"},
		{"HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"AUTH0_JWKS_TIMEOUT", "0s", "AUTH0_JWKS_TIMEOUT"},
		{"OPENAI_TEMPERATURE", "3", "OPENAI_TEMPERATURE"},
		{"OPENAI_TIMEOUT", "0s", "provider timeouts"},
		{"HUBSPOT_WORKERS", "0", "HUBSPOT_WORKERS"},
		{"FREE_USER_DAILY_LIMIT", "-1", "FREE_USER_DAILY_LIMIT"},
		{"PREMIUM_USER_DAILY_LIMIT", "2", "PREMIUM_USER_DAILY_LIMIT"},
		{"QUOTA_TIMEZONE", "Mars/Olympus", "QUOTA_TIMEZONE"},
		{"MAX_QUESTION_RUNES", "0", "MAX_QUESTION_RUNES"},
		{"OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			withIdentity(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoad_IdentityRules(t *testing.T) {
	t.Run("missing identity", func(t *testing.T) {
		_, err := Load()
		assert.ErrorContains(t, err, "AUTH0_AUDIENCE")
	})
	t.Run("auth disabled in production", func(t *testing.T) {
		t.Setenv("AUTH_DISABLED", "true")
		t.Setenv("ENVIRONMENT", "production")
		_, err := Load()
		assert.ErrorContains(t, err, "AUTH_DISABLED")
	})
	t.Run("auth disabled in development", func(t *testing.T) {
		t.Setenv("AUTH_DISABLED", "true")
		_, err := Load()
		assert.NoError(t, err)
	})
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	withIdentity(t)
	t.Setenv("RATE_BURST", "0")
	t.Setenv("QUOTA_TIMEZONE", "Nowhere/Land")
	_, err := Load()
	assert.ErrorContains(t, err, "RATE_BURST")
	assert.ErrorContains(t, err, "QUOTA_TIMEZONE")
}

func TestMustLoad(t *testing.T) {
	withIdentity(t)
	assert.NotPanics(t, func() { _ = MustLoad() })

	t.Setenv("LOG_LEVEL", "verbose")
	assert.Panics(t, func() { _ = MustLoad() })
}

func TestEnvReaders(t *testing.T) {
	t.Setenv("X_BLANK", "   ")
	t.Setenv("X_STR", " val ")
	t.Setenv("X_INT", "42")
	t.Setenv("X_FLOAT", "3.5")
	t.Setenv("X_DUR", "90s")
	t.Setenv("X_BAD", "zzz")

	assert.Equal(t, "d", getenv("X_BLANK", "d"))
	assert.Equal(t, "val", getenv("X_STR", "d"))
	assert.Equal(t, 42, getint("X_INT", 0))
	assert.Equal(t, 7, getint("X_BAD", 7))
	assert.Equal(t, 3.5, getfloat("X_FLOAT", 0))
	assert.Equal(t, 1.25, getfloat("X_BAD", 1.25))
	assert.Equal(t, 90*time.Second, getdur("X_DUR", 0))
	assert.Equal(t, 2*time.Second, getdur("X_BAD", 2*time.Second))

	for _, v := range []string{"1", "true", " yes ", "Y", "On"} {
		t.Setenv("X_BOOL", v)
		assert.True(t, getbool("X_BOOL", false), v)
	}
	for _, v := range []string{"0", "FALSE", " no ", "N", "off"} {
		t.Setenv("X_BOOL", v)
		assert.False(t, getbool("X_BOOL", true), v)
	}
	t.Setenv("X_BOOL", "maybe")
	assert.True(t, getbool("X_BOOL", true))
}

func TestSplitCSVAndBasePath(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV(" a, ,b ,  c  ,"))

	for in, want := range map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1", "api/v1/": "/api/v1"} {
		assert.Equal(t, want, normalizeBasePath(in), in)
	}
}

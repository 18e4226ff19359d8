package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/http/middleware"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// Error codes written by the middleware.
const (
	CodeUnauthorized        = "unauthorized"
	CodeAccountInactive     = "account_inactive"
	CodeIdentityUnavailable = "identity_unavailable"
	CodeInternal            = "internal_error"
)

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (domain.Identity, error)
}

// AccountResolver maps a verified identity to its account, creating it on
// first sight.
type AccountResolver interface {
	Resolve(ctx context.Context, id domain.Identity) (*domain.Account, error)
}

// FailFunc writes an error envelope and aborts the request.
type FailFunc func(c *gin.Context, status int, code, msg string)

// MiddlewareConfig controls authentication.
type MiddlewareConfig struct {
	// Disabled skips token verification and authenticates every request as
	// DevIdentity. Local development only; config refuses it in production.
	Disabled    bool
	DevIdentity domain.Identity

	// Fail writes error responses; nil uses a bare {code,message} body.
	Fail FailFunc
}

// DefaultDevIdentity is used when authentication is disabled and no identity
// is configured.
var DefaultDevIdentity = domain.Identity{
	Subject:       "auth0|local-dev",
	Email:         "dev@localhost",
	EmailVerified: true,
	Name:          "Local Developer",
}

// Middleware verifies the bearer token, resolves the account and stores both
// on the request. Failures never reach the handler:
//   - missing, malformed or rejected token: 401
//   - soft-deleted account: 403
//   - key set unavailable: 503
func Middleware(verifier TokenVerifier, accounts AccountResolver, cfg MiddlewareConfig) gin.HandlerFunc {
	fail := cfg.Fail
	if fail == nil {
		fail = func(c *gin.Context, status int, code, msg string) {
			c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
		}
	}
	dev := cfg.DevIdentity
	if dev.Subject == "" {
		dev = DefaultDevIdentity
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lg := middleware.LoggerFrom(c)

		var ident domain.Identity
		if cfg.Disabled {
			ident = dev
		} else {
			if verifier == nil {
				fail(c, http.StatusServiceUnavailable, CodeIdentityUnavailable, "authentication is not configured")
				return
			}
			token, ok := extractBearerToken(c.GetHeader("Authorization"))
			if !ok {
				fail(c, http.StatusUnauthorized, CodeUnauthorized, "missing or malformed bearer token")
				return
			}
			id, err := verifier.Verify(ctx, token)
			switch {
			case errors.Is(err, ErrIdentityUnavailable):
				lg.Error().Err(err).Msg("jwks unavailable")
				fail(c, http.StatusServiceUnavailable, CodeIdentityUnavailable, "identity provider unavailable")
				return
			case err != nil:
				lg.Debug().Err(err).Msg("token rejected")
				fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
				return
			}
			ident = id
		}

		acct, err := accounts.Resolve(ctx, ident)
		switch {
		case errors.Is(err, services.ErrAccountInactive):
			fail(c, http.StatusForbidden, CodeAccountInactive, "account is inactive")
			return
		case errors.Is(err, services.ErrAccountNotFound):
			fail(c, http.StatusUnauthorized, CodeUnauthorized, "token missing subject")
			return
		case err != nil:
			lg.Error().Err(err).Msg("resolve account")
			fail(c, http.StatusInternalServerError, CodeInternal, "internal server error")
			return
		}

		c.Set(ctxKeyAccount, acct)
		c.Set(ctxKeyIdentity, ident)
		middleware.BindUser(c, acct.ID)
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

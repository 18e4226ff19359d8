// Package auth verifies Auth0 bearer tokens against the tenant JWKS and
// resolves the caller into an Account for the HTTP layer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/domain"
)

const defaultLeeway = 30 * time.Second

var (
	// ErrUnauthenticated covers expired, malformed and wrongly signed tokens.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrIdentityUnavailable is returned when no signing keys could be
	// fetched from the identity provider.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// Claims is the subset of the Auth0 token payload we read.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Nickname      string `json:"nickname"`
	Picture       string `json:"picture"`
	Scope         string `json:"scope"`
}

// Identity converts verified claims into the domain identity.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		Subject:       c.Subject,
		Email:         strings.TrimSpace(c.Email),
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Nickname:      c.Nickname,
		Picture:       c.Picture,
	}
}

// Verifier validates RS-signed access tokens for one issuer and audience.
type Verifier struct {
	issuer   string
	audience string
	timeout  time.Duration
	keys     keyfunc.Keyfunc
	parser   *jwt.Parser
}

// NewVerifier builds a verifier from the Auth0 settings. The JWKS is fetched
// in the background and refreshed when an unknown key id shows up.
func NewVerifier(cfg config.Auth0Config) (*Verifier, error) {
	issuer := normalizeIssuer(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("auth: issuer must be set")
	}
	if cfg.Audience == "" {
		return nil, errors.New("auth: audience must be set")
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + ".well-known/jwks.json"
	}

	keys, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: init JWKS keyfunc: %w", err)
	}

	timeout := cfg.JWKSTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Verifier{
		issuer:   issuer,
		audience: cfg.Audience,
		timeout:  timeout,
		keys:     keys,
		parser: jwt.NewParser(
			jwt.WithIssuer(issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name}),
		),
	}, nil
}

// Verify checks the token and returns the caller identity.
//
// Errors:
//   - ErrIdentityUnavailable when the key set is empty (fetch failed).
//   - ErrUnauthenticated for everything else.
func (v *Verifier) Verify(ctx context.Context, raw string) (domain.Identity, error) {
	kctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, v.keys.KeyfuncCtx(kctx))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) && !v.hasKeys(kctx) {
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Identity{}, fmt.Errorf("%w: token missing sub", ErrUnauthenticated)
	}
	return claims.Identity(), nil
}

func (v *Verifier) hasKeys(ctx context.Context) bool {
	all, err := v.keys.Storage().KeyReadAll(ctx)
	return err == nil && len(all) > 0
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer
}

package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/http/middleware"
)

// Gin context keys.
const (
	ctxKeyAccount  = "auth.account"
	ctxKeyIdentity = "auth.identity"
)

// Account returns the account resolved by Middleware for this request.
func Account(c *gin.Context) (*domain.Account, bool) {
	v, ok := c.Get(ctxKeyAccount)
	if !ok {
		return nil, false
	}
	a, ok := v.(*domain.Account)
	return a, ok && a != nil
}

// Identity returns the verified identity for this request.
func Identity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

// SetAccount binds an account to the Gin context. Handler tests use it to
// skip token verification.
func SetAccount(c *gin.Context, a *domain.Account) {
	c.Set(ctxKeyAccount, a)
	c.Set(ctxKeyIdentity, domain.Identity{Subject: a.Auth0Sub, Email: a.Email, Name: a.Name})
	middleware.BindUser(c, a.ID)
}

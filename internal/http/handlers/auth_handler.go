// Auth HTTP handlers.
//
// Token verification itself happens in the auth middleware; these endpoints
// report what it established:
//   - POST /auth/validate-token
//   - GET  /auth/user-info
//   - POST /auth/refresh-user
//   - GET  /auth/check-auth
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/auth"
)

// TokenValidationResponse confirms a bearer token.
type TokenValidationResponse struct {
	Valid   bool   `json:"valid" example:"true"`
	UserID  string `json:"user_id" example:"abc123"`
	Email   string `json:"email" example:"pat@example.com"`
	Message string `json:"message" example:"Token is valid"`
}

// UserInfoResponse is the identity view of the account.
type UserInfoResponse struct {
	ID            string     `json:"id"`
	Auth0Sub      string     `json:"auth0_sub" example:"auth0|abc123"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Name          string     `json:"name"`
	GivenName     string     `json:"given_name"`
	FamilyName    string     `json:"family_name"`
	Nickname      string     `json:"nickname"`
	Picture       string     `json:"picture"`
	LastLogin     *time.Time `json:"last_login"`
	LoginCount    int        `json:"login_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RefreshUserResponse carries the account after claims were re-applied.
type RefreshUserResponse struct {
	Message string          `json:"message" example:"User data refreshed successfully"`
	User    SessionResponse `json:"user"`
}

// CheckAuthResponse is the minimal signed-in probe.
type CheckAuthResponse struct {
	Authenticated bool   `json:"authenticated" example:"true"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	IsPremium     bool   `json:"is_premium"`
}

// ValidateToken godoc
// @ID          validateToken
// @Summary     Validate the bearer token
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.TokenValidationResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     503  {object}  handlers.ErrorResponse  "Identity provider unavailable"
// @Router      /auth/validate-token [post]
func (h *Handlers) ValidateToken(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	email := a.Email
	if id, found := auth.Identity(c); found && id.Email != "" {
		email = id.Email
	}
	ok(c, http.StatusOK, TokenValidationResponse{Valid: true, UserID: a.ID, Email: email, Message: "Token is valid"})
}

// UserInfo godoc
// @ID          userInfo
// @Summary     Identity details
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UserInfoResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/user-info [get]
func (h *Handlers) UserInfo(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	ok(c, http.StatusOK, UserInfoResponse{
		ID:            a.ID,
		Auth0Sub:      a.Auth0Sub,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Name:          a.Name,
		GivenName:     a.GivenName,
		FamilyName:    a.FamilyName,
		Nickname:      a.Nickname,
		Picture:       a.Picture,
		LastLogin:     a.LastLogin,
		LoginCount:    a.LoginCount,
		CreatedAt:     a.CreatedAt,
	})
}

// RefreshUser godoc
// @ID          refreshUser
// @Summary     Re-apply token claims
// @Description Copies the verified token claims onto the account again and returns the session view.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.RefreshUserResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/refresh-user [post]
func (h *Handlers) RefreshUser(c *gin.Context) {
	if _, authed := account(c); !authed {
		return
	}
	id, found := auth.Identity(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	a, err := h.accounts.Resolve(c.Request.Context(), id)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, RefreshUserResponse{Message: "User data refreshed successfully", User: sessionView(a)})
}

// CheckAuth godoc
// @ID          checkAuth
// @Summary     Signed-in probe
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.CheckAuthResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/check-auth [get]
func (h *Handlers) CheckAuth(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	ok(c, http.StatusOK, CheckAuthResponse{Authenticated: true, UserID: a.ID, Email: a.Email, IsPremium: a.IsPremium})
}

// User HTTP handlers.
//
// This file exposes the account endpoints of the signed-in user:
//   - GET    /user/session
//   - GET    /user/profile
//   - POST   /user/increment-question
//   - POST   /user/complete-profile
//   - PUT    /user/preferences
//   - GET    /user/usage
//   - DELETE /user/account
//   - GET    /user/check-premium
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// SessionResponse is the compact account view used by the frontend shell.
type SessionResponse struct {
	ID                  string         `json:"id" example:"abc123"`
	Email               string         `json:"email" example:"pat@example.com"`
	Name                *string        `json:"name"`
	GivenName           *string        `json:"given_name"`
	Picture             *string        `json:"picture"`
	ProfileCompleted    bool           `json:"profile_completed"`
	OnboardingCompleted bool           `json:"onboarding_completed"`
	QuestionCount       int            `json:"question_count"`
	DailyQuestionCount  int            `json:"daily_question_count"`
	IsPremium           bool           `json:"is_premium"`
	SubscriptionStatus  string         `json:"subscription_status" example:"free"`
	Preferences         map[string]any `json:"preferences"`
	CreatedAt           time.Time      `json:"created_at"`
}

// CompleteProfileRequest carries onboarding answers. Omitted fields are left
// unchanged.
type CompleteProfileRequest struct {
	Age             *int           `json:"age" example:"34"`
	Conditions      []string       `json:"conditions"`
	Symptoms        []string       `json:"symptoms"`
	Medications     []string       `json:"medications"`
	Preferences     map[string]any `json:"preferences"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	PhoneNumber     string         `json:"phone_number"`
	Location        string         `json:"location"`
	HowHeardAboutUs string         `json:"how_heard_about_us"`
}

// CompleteProfileResponse acknowledges onboarding.
type CompleteProfileResponse struct {
	Message             string `json:"message" example:"Profile completed successfully"`
	ProfileCompleted    bool   `json:"profile_completed"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

// PreferencesRequest replaces the account preferences.
type PreferencesRequest struct {
	Preferences          map[string]any `json:"preferences" binding:"required"`
	NotificationSettings map[string]any `json:"notification_settings"`
}

// PreferencesResponse echoes the stored preferences.
type PreferencesResponse struct {
	Message              string         `json:"message" example:"Preferences updated successfully"`
	Preferences          map[string]any `json:"preferences"`
	NotificationSettings map[string]any `json:"notification_settings"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sessionView(a *domain.Account) SessionResponse {
	prefs := map[string]any(a.Preferences)
	if prefs == nil {
		prefs = map[string]any{}
	}
	return SessionResponse{
		ID:                  a.ID,
		Email:               a.Email,
		Name:                optional(a.Name),
		GivenName:           optional(a.GivenName),
		Picture:             optional(a.Picture),
		ProfileCompleted:    a.ProfileCompleted,
		OnboardingCompleted: a.OnboardingCompleted,
		QuestionCount:       a.QuestionCount,
		DailyQuestionCount:  a.DailyQuestionCount,
		IsPremium:           a.IsPremium,
		SubscriptionStatus:  a.SubscriptionStatus,
		Preferences:         prefs,
		CreatedAt:           a.CreatedAt,
	}
}

// GetSession godoc
// @ID          getSession
// @Summary     Current session
// @Description Returns the compact view of the signed-in account.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SessionResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/session [get]
func (h *Handlers) GetSession(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	ok(c, http.StatusOK, sessionView(a))
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Full profile
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.Account
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	ok(c, http.StatusOK, a)
}

// IncrementQuestion godoc
// @ID          incrementQuestion
// @Summary     Reserve one question
// @Description Atomically records one question against the daily quota.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.QuestionReceipt
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily limit reached"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /user/increment-question [post]
func (h *Handlers) IncrementQuestion(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	rec, err := h.accounts.IncrementQuestion(c.Request.Context(), a.ID)
	if err != nil {
		if errors.Is(err, services.ErrQuotaExceeded) {
			fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, msgQuotaExceeded)
			return
		}
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// CompleteProfile godoc
// @ID          completeProfile
// @Summary     Complete onboarding
// @Tags        User
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CompleteProfileRequest  true  "Onboarding answers"
// @Success     200   {object}  handlers.CompleteProfileResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/complete-profile [post]
func (h *Handlers) CompleteProfile(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	var req CompleteProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	updated, err := h.accounts.CompleteProfile(c.Request.Context(), a.ID, services.ProfileInput{
		Age:             req.Age,
		Conditions:      req.Conditions,
		Symptoms:        req.Symptoms,
		Medications:     req.Medications,
		Preferences:     req.Preferences,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		PhoneNumber:     req.PhoneNumber,
		Location:        req.Location,
		HowHeardAboutUs: req.HowHeardAboutUs,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidProfile) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "age must be between 0 and 130")
			return
		}
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, CompleteProfileResponse{
		Message:             "Profile completed successfully",
		ProfileCompleted:    updated.ProfileCompleted,
		OnboardingCompleted: updated.OnboardingCompleted,
	})
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Replace preferences
// @Tags        User
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.PreferencesRequest  true  "Preferences"
// @Success     200   {object}  handlers.PreferencesResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "preferences object required")
		return
	}
	updated, err := h.accounts.UpdatePreferences(c.Request.Context(), a.ID, req.Preferences, req.NotificationSettings)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, PreferencesResponse{
		Message:              "Preferences updated successfully",
		Preferences:          updated.Preferences,
		NotificationSettings: updated.NotificationSettings,
	})
}

// GetUsage godoc
// @ID          getUsage
// @Summary     Usage statistics
// @Description Quota counters after the daily rollover and premium expiry are applied.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.Usage
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	u, err := h.accounts.Usage(c.Request.Context(), a.ID)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteAccount godoc
// @ID          deleteAccount
// @Summary     Delete the account
// @Description Soft-deletes the account; later requests with the same identity are refused.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/account [delete]
func (h *Handlers) DeleteAccount(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	if err := h.accounts.Deactivate(c.Request.Context(), a.ID); err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "Account deleted successfully"})
}

// CheckPremium godoc
// @ID          checkPremium
// @Summary     Premium status
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.PremiumStatus
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /user/check-premium [get]
func (h *Handlers) CheckPremium(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	st, err := h.accounts.CheckPremium(c.Request.Context(), a.ID)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

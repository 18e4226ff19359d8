package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/http/middleware"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// ErrorResponse is the error envelope of every endpoint. Clients branch on
// Code; Message is safe to show to the user.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"premium_required"`
	Message   string `json:"message" example:"Conversation history is a premium feature. Please upgrade to access your chat history."`
}

// fail aborts with the error envelope. Server errors are logged with the
// request-scoped logger together with whatever the handler attached through
// c.Error.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallbacks and the auth middleware.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failInternal records err and answers 500 without exposing it.
func failInternal(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, msgInternal)
}

// failAccount maps the account errors shared by the user, auth and CRM
// endpoints.
func failAccount(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAccountInactive):
		fail(c, http.StatusForbidden, ErrCodeAccountInactive, "account is inactive")
	case errors.Is(err, services.ErrAccountNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
	default:
		failInternal(c, err)
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

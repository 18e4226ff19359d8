package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// FeedbackRequest rates an assistant answer.
type FeedbackRequest struct {
	Value   int    `json:"value"   binding:"required,oneof=-1 1" example:"1"`
	Comment string `json:"comment" binding:"max=1000"           example:"Clear and easy to follow"`
}

// FeedbackResponse echoes the stored rating.
type FeedbackResponse struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Value     int       `json:"value"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toFeedbackResponse(fb *domain.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ID:        fb.ID,
		MessageID: fb.MessageID,
		Value:     fb.Value,
		Comment:   fb.Comment,
		UpdatedAt: fb.UpdatedAt,
	}
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Leave feedback on an answer
// @Description Rates an assistant answer +1 or -1 with an optional comment. Rating the same answer again replaces the earlier rating.
// @Tags        Feedback
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                   true "Message ID (UUID)" format(uuid)
// @Param       body  body  handlers.FeedbackRequest true "Rating"
// @Success     201 {object} handlers.FeedbackResponse "Rating recorded"
// @Success     200 {object} handlers.FeedbackResponse "Rating replaced"
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     401 {object} handlers.ErrorResponse
// @Failure     403 {object} handlers.ErrorResponse
// @Failure     404 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /messages/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	messageID := c.Param("id")
	if _, err := uuid.Parse(messageID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return
	}

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "value must be -1 or 1 and comment at most 1000 characters")
		return
	}

	fb, created, err := h.fbSvc.Rate(c.Request.Context(), a, messageID, req.Value, req.Comment)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidFeedback):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "value must be -1 or 1 and comment at most 1000 characters")
		return
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		return
	case errors.Is(err, services.ErrForbiddenFeedback):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only your own answers can be rated")
		return
	default:
		failInternal(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, toFeedbackResponse(fb))
}

// Query HTTP handler.
//
//   - POST /query  (ask a question, get an answer persisted in a conversation)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous answer
// exists for (account, key), the stored answer is returned unchanged with
// `Idempotency-Replayed: true` and no quota is consumed. While the first
// request with a key is still running, repeats get 409.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatdys-backend/internal/http/middleware"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// HeaderIdempotencyReplayed marks responses served from a stored answer.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// QueryRequest is the JSON payload for a question.
type QueryRequest struct {
	// Question is the user's question; it must be non-blank.
	Question string `json:"question" binding:"required" example:"What helps with dysautonomia fatigue?"`
	// ConversationID continues an existing conversation when set.
	ConversationID string `json:"conversation_id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// line endings become LF, long blank runs shrink to one empty line and
// surrounding whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Query godoc
// @ID          query
// @Summary     Ask a question
// @Description Reserves one question from the daily quota, stores the question and the answer in a conversation and returns the answer.
// @Description Supports idempotency via the Idempotency-Key header (same key → same answer, no extra quota).
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.QueryRequest  true  "Question payload"
//
// @Success     200  {object}  services.QuestionResult
// @Header      200  {string}  Idempotency-Replayed  "true when served from a stored answer"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or oversized question"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still being processed"
// @Failure     422  {object}  handlers.ErrorResponse  "Idempotency-Key reused for another question"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily limit reached"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /query [post]
func (h *Handlers) Query(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidQuestion, "Question cannot be empty")
		return
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID != "" {
		if _, err := uuid.Parse(convID); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id must be a UUID")
			return
		}
	}

	idemKey := middleware.IdempotencyFrom(c).Key
	res, err := h.questions.Ask(c.Request.Context(), services.QuestionInput{
		AccountID:      a.ID,
		Question:       sanitizeContent(req.Question),
		ConversationID: convID,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuestion):
			fail(c, http.StatusBadRequest, ErrCodeInvalidQuestion, "Question cannot be empty")
		case errors.Is(err, services.ErrQuestionTooLong):
			fail(c, http.StatusBadRequest, ErrCodeInvalidQuestion,
				fmt.Sprintf("Question too long. Maximum %d characters allowed.", h.maxRunes))
		case errors.Is(err, services.ErrQuotaExceeded):
			fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, msgQuotaExceeded)
		case errors.Is(err, services.ErrIdempotencyInFlight):
			fail(c, http.StatusConflict, ErrCodeIdempotencyInFlight, "A request with this Idempotency-Key is still being processed")
		case errors.Is(err, services.ErrIdempotencyMismatch):
			fail(c, http.StatusUnprocessableEntity, ErrCodeIdempotencyMismatch, "Idempotency-Key was already used for a different question")
		case errors.Is(err, services.ErrAccountInactive), errors.Is(err, services.ErrAccountNotFound):
			failAccount(c, err)
		default:
			_ = c.Error(err)
			fail(c, http.StatusInternalServerError, ErrCodeAnswerFailed, "Failed to process message")
		}
		return
	}

	if res.Replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, res)
}

// Conversation HTTP handlers.
//
//   - GET    /conversations              (list, paginated, premium only)
//   - GET    /conversations/{id}         (detail with messages, premium only)
//   - DELETE /conversations/{id}         (soft delete)
//   - PUT    /conversations/{id}/title   (rename)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/services"
)

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Total         int64                 `json:"total"`
	Pagination    Pagination            `json:"pagination"`
}

// UpdateTitleRequest is the JSON payload for renaming a conversation.
type UpdateTitleRequest struct {
	// Title is clipped to 100 characters; blank becomes "Untitled Conversation".
	Title string `json:"title" example:"Morning dizziness"`
}

// UpdateTitleResponse returns the renamed conversation.
type UpdateTitleResponse struct {
	Message      string               `json:"message" example:"Title updated successfully"`
	Conversation *domain.Conversation `json:"conversation"`
}

// conversationID reads and validates the :id path parameter.
func conversationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}

// failLedger maps ledger errors.
func failLedger(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrPremiumRequired):
		fail(c, http.StatusForbidden, ErrCodePremiumRequired, msgHistoryPremium)
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Conversation not found")
	default:
		failAccount(c, err)
	}
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns the account's live conversations, most recent first. Premium only.
// @Description Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Premium required"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.ledger.List(c.Request.Context(), a.ID, page, pageSize)
	if err != nil {
		failLedger(c, err)
		return
	}

	etag := listETag(a.ID, page, pageSize, total, items)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Total:         total,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// listETag fingerprints a page by its size, position and newest update.
func listETag(accountID string, page, pageSize int, total int64, items []domain.Conversation) string {
	var newest int64
	for _, it := range items {
		if ts := it.UpdatedAt.UnixNano(); ts > newest {
			newest = ts
		}
	}
	return fmt.Sprintf(`W/"conversations:%s:%d:%d:%d:%d"`, accountID, page, pageSize, total, newest)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Conversation with messages
// @Description Returns a conversation and its live messages in chronological order. Premium only.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object}  services.ConversationDetail
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Premium required"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}
	d, err := h.ledger.Get(c.Request.Context(), a.ID, id)
	if err != nil {
		failLedger(c, err)
		return
	}
	if d.Messages == nil {
		d.Messages = []domain.Message{}
	}
	ok(c, http.StatusOK, d)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}
	if err := h.ledger.Delete(c.Request.Context(), a.ID, id); err != nil {
		failLedger(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "Conversation deleted successfully"})
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Accepts the title as JSON body or as the `title` query parameter.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id     path      string  true   "Conversation ID (UUID)"  format(uuid)
// @Param       title  query     string  false  "New title"
// @Param       body   body      handlers.UpdateTitleRequest  false  "New title"
// @Success     200    {object}  handlers.UpdateTitleResponse
// @Failure     400    {object}  handlers.ErrorResponse "Bad request"
// @Failure     404    {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}

	title, hasQuery := c.GetQuery("title")
	if !hasQuery {
		var req UpdateTitleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
			return
		}
		title = req.Title
	}

	conv, err := h.ledger.UpdateTitle(c.Request.Context(), a.ID, id, strings.TrimSpace(title))
	if err != nil {
		failLedger(c, err)
		return
	}
	ok(c, http.StatusOK, UpdateTitleResponse{Message: "Title updated successfully", Conversation: conv})
}

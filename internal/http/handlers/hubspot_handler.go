// CRM HTTP handlers.
//
// Sync requests run the CRM call on the request goroutine and report the
// outcome in the body; a failed sync never fails the request.
//   - POST /hubspot/sync-contact
//   - POST /hubspot/sync-current-user
//   - POST /hubspot/track-event
//   - GET  /hubspot/sync-status
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatdys-backend/internal/services"
)

// SyncContactRequest overrides contact properties for one sync. Empty fields
// keep the values derived from the account.
type SyncContactRequest struct {
	FirstName            string `json:"firstname"`
	LastName             string `json:"lastname"`
	Phone                string `json:"phone"`
	LifecycleStage       string `json:"lifecyclestage" example:"lead"`
	LeadStatus           string `json:"hs_lead_status" example:"NEW"`
	ChatdysUserID        string `json:"chatdys_user_id"`
	ChatdysSignupDate    string `json:"chatdys_signup_date"`
	ChatdysQuestionCount int    `json:"chatdys_question_count"`
	ChatdysIsPremium     string `json:"chatdys_is_premium" example:"false"`
}

// SyncResponse reports one sync attempt.
type SyncResponse struct {
	Success          bool    `json:"success"`
	Message          string  `json:"message" example:"User synced to HubSpot successfully"`
	HubSpotContactID *string `json:"hubspot_contact_id"`
}

// TrackEventRequest names a timeline event.
type TrackEventRequest struct {
	EventName  string         `json:"event_name" binding:"required" example:"chatdys_viewed_pricing"`
	Properties map[string]any `json:"properties"`
}

// TrackEventResponse reports one event attempt.
type TrackEventResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message" example:"Event tracked successfully"`
}

// SyncStatusResponse is the CRM bookkeeping of the account.
type SyncStatusResponse struct {
	HubSpotSynced    bool       `json:"hubspot_synced"`
	HubSpotContactID *string    `json:"hubspot_contact_id"`
	HubSpotLastSync  *time.Time `json:"hubspot_last_sync"`
}

func (r SyncContactRequest) overrides() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set("firstname", r.FirstName)
	set("lastname", r.LastName)
	set("phone", r.Phone)
	set("lifecyclestage", r.LifecycleStage)
	set("hs_lead_status", r.LeadStatus)
	set("chatdys_user_id", r.ChatdysUserID)
	set("chatdys_signup_date", r.ChatdysSignupDate)
	set("chatdys_is_premium", r.ChatdysIsPremium)
	if r.ChatdysQuestionCount > 0 {
		out["chatdys_question_count"] = fmt.Sprint(r.ChatdysQuestionCount)
	}
	return out
}

func (h *Handlers) crmEnabled() bool { return h.crm != nil && h.crm.Enabled() }

func syncResponse(res services.CRMResult) SyncResponse {
	if res.Err != nil {
		return SyncResponse{Success: false, Message: "HubSpot sync error: " + res.Err.Error()}
	}
	return SyncResponse{Success: true, Message: "User synced to HubSpot successfully", HubSpotContactID: optional(res.ContactID)}
}

// SyncContact godoc
// @ID          hubspotSyncContact
// @Summary     Sync the account to the CRM
// @Description Upserts the CRM contact keyed by email. Body fields override the derived properties.
// @Tags        CRM
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.SyncContactRequest  false  "Property overrides"
// @Success     200   {object}  handlers.SyncResponse
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /hubspot/sync-contact [post]
func (h *Handlers) SyncContact(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	var req SyncContactRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if !h.crmEnabled() {
		ok(c, http.StatusOK, SyncResponse{Message: "HubSpot is not configured"})
		return
	}

	job := services.ContactJob(a)
	for k, v := range req.overrides() {
		job.Props[k] = v
	}
	ok(c, http.StatusOK, syncResponse(h.crm.SyncNow(c.Request.Context(), job)))
}

// SyncCurrentUser godoc
// @ID          hubspotSyncCurrentUser
// @Summary     Sync the account with derived properties
// @Tags        CRM
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SyncResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /hubspot/sync-current-user [post]
func (h *Handlers) SyncCurrentUser(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	if !h.crmEnabled() {
		ok(c, http.StatusOK, SyncResponse{Message: "HubSpot is not configured"})
		return
	}
	ok(c, http.StatusOK, syncResponse(h.crm.SyncNow(c.Request.Context(), services.ContactJob(a))))
}

// TrackEvent godoc
// @ID          hubspotTrackEvent
// @Summary     Record a CRM timeline event
// @Tags        CRM
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.TrackEventRequest  true  "Event"
// @Success     200   {object}  handlers.TrackEventResponse
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /hubspot/track-event [post]
func (h *Handlers) TrackEvent(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	var req TrackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.EventName) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "event_name required")
		return
	}
	if !h.crmEnabled() {
		ok(c, http.StatusOK, TrackEventResponse{Message: "HubSpot is not configured"})
		return
	}

	props := make(map[string]string, len(req.Properties))
	for k, v := range req.Properties {
		props[k] = fmt.Sprint(v)
	}
	res := h.crm.SyncNow(c.Request.Context(), services.EventJob(a, strings.TrimSpace(req.EventName), props))
	if res.Err != nil {
		ok(c, http.StatusOK, TrackEventResponse{Message: "Event tracking error: " + res.Err.Error()})
		return
	}
	ok(c, http.StatusOK, TrackEventResponse{Success: true, Message: "Event tracked successfully"})
}

// SyncStatus godoc
// @ID          hubspotSyncStatus
// @Summary     CRM sync bookkeeping
// @Tags        CRM
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SyncStatusResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /hubspot/sync-status [get]
func (h *Handlers) SyncStatus(c *gin.Context) {
	a, authed := account(c)
	if !authed {
		return
	}
	fresh, err := h.accounts.Get(c.Request.Context(), a.ID)
	if err != nil {
		failAccount(c, err)
		return
	}
	ok(c, http.StatusOK, SyncStatusResponse{
		HubSpotSynced:    fresh.HubSpotSynced,
		HubSpotContactID: optional(fresh.HubSpotContactID),
		HubSpotLastSync:  fresh.HubSpotLastSync,
	})
}

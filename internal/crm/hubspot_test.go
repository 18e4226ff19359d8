package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{BaseURL: srv.URL, AccessToken: "tok", HTTP: srv.Client()}
}

func TestUpsertContact_Created(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		var body contactBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body.Properties["email"])
		assert.Equal(t, "lead", body.Properties["lifecyclestage"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"101"}`))
	})

	id, err := c.UpsertContact(context.Background(), "a@example.com", map[string]string{"lifecyclestage": "lead"})
	require.NoError(t, err)
	assert.Equal(t, "101", id)
}

func TestUpsertContact_ConflictSearchesThenPatches(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"Contact already exists"}`))
		case r.URL.Path == "/crm/v3/objects/contacts/search":
			_, _ = w.Write([]byte(`{"results":[{"id":"77"}]}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/crm/v3/objects/contacts/77":
			var body contactBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, hasEmail := body.Properties["email"]
			assert.False(t, hasEmail, "patch must not resend email")
			_, _ = w.Write([]byte(`{"id":"77"}`))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	})

	id, err := c.UpsertContact(context.Background(), "a@example.com", map[string]string{"phone": "1"})
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, []string{
		"POST /crm/v3/objects/contacts",
		"POST /crm/v3/objects/contacts/search",
		"PATCH /crm/v3/objects/contacts/77",
	}, calls)
}

func TestUpsertContact_ConflictWithoutMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crm/v3/objects/contacts" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	_, err := c.UpsertContact(context.Background(), "a@example.com", nil)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestUpsertContact_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Property does not exist"}`))
	})
	_, err := c.UpsertContact(context.Background(), "a@example.com", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Property does not exist")
}

func TestClient_NotConfigured(t *testing.T) {
	c := &Client{}
	_, err := c.UpsertContact(context.Background(), "a@example.com", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.TrackEvent(context.Background(), "a@example.com", "x", nil), ErrNotConfigured)
	assert.False(t, (*Client)(nil).Enabled())
}

func TestTrackEvent_Payload(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/timeline/events", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "upgraded", body["eventTemplateId"])
		assert.Equal(t, "a@example.com", body["email"])
		assert.Equal(t, "2025-03-04T05:06:07Z", body["timestamp"])
		assert.Equal(t, map[string]any{}, body["tokens"])
		w.WriteHeader(http.StatusOK)
	})
	c.Now = func() time.Time { return at }

	require.NoError(t, c.TrackEvent(context.Background(), "a@example.com", "upgraded", nil))
}

func TestTrackEvent_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := c.TrackEvent(context.Background(), "a@example.com", "x", map[string]string{"k": "v"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestContactProperties(t *testing.T) {
	login := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &domain.Account{
		ID: "u1", Auth0Sub: "auth0|u1",
		GivenName: "Ada", FamilyName: "Lovelace", FirstName: "",
		IsPremium: true, SubscriptionStatus: domain.StatusActive,
		ProfileCompleted: true, QuestionCount: 12, LoginCount: 3,
		LastLogin:       &login,
		Conditions:      []string{"POTS", "EDS"},
		HowHeardAboutUs: "podcast",
	}
	p := ContactProperties(a)

	assert.Equal(t, "Ada", p["firstname"])
	assert.Equal(t, "Lovelace", p["lastname"])
	assert.Equal(t, LifecycleCustomer, p["lifecyclestage"])
	assert.Equal(t, LeadStatusOpen, p["hs_lead_status"])
	assert.Equal(t, "true", p["chatdys_is_premium"])
	assert.Equal(t, "12", p["chatdys_question_count"])
	assert.Equal(t, "3", p["chatdys_login_count"])
	assert.Equal(t, "2025-01-02T03:04:05Z", p["chatdys_last_login"])
	assert.Equal(t, "", p["chatdys_signup_date"])
	assert.Equal(t, "POTS, EDS", p["chatdys_health_conditions"])
	assert.Equal(t, "podcast", p["how_did_you_hear_about_us"])

	free := ContactProperties(&domain.Account{ID: "u2", SubscriptionStatus: domain.StatusFree})
	assert.Equal(t, LifecycleLead, free["lifecyclestage"])
	assert.Equal(t, LeadStatusNew, free["hs_lead_status"])
	assert.NotContains(t, free, "chatdys_health_conditions")
}

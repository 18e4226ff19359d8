// Package crm pushes account data and named events to the HubSpot CRM.
//
// The client speaks the HubSpot v3 REST API directly: contacts are upserted
// by email (create, then search-and-patch when the create reports a
// conflict) and events go to the timeline endpoint. Every call is bounded by
// the client timeout; callers treat errors as best-effort failures.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/chatdys-backend/internal/config"
)

// ErrNotConfigured is returned by every call on a client without a token.
var ErrNotConfigured = errors.New("hubspot access token not configured")

// ErrContactNotFound is returned when an existing contact cannot be located
// after a create conflict.
var ErrContactNotFound = errors.New("hubspot contact not found")

// APIError carries a non-success HubSpot response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client is a minimal HubSpot API client.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client

	// Now stamps timeline events; nil means time.Now.
	Now func() time.Time
}

// NewClient builds a client from configuration.
func NewClient(cfg config.HubSpotConfig) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		AccessToken: cfg.AccessToken,
		HTTP:        &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool { return c != nil && c.AccessToken != "" }

type contactBody struct {
	Properties map[string]string `json:"properties"`
}

type contactResponse struct {
	ID string `json:"id"`
}

type searchResponse struct {
	Results []contactResponse `json:"results"`
}

// UpsertContact creates or updates the contact keyed by email and returns the
// HubSpot contact id.
func (c *Client) UpsertContact(ctx context.Context, email string, props map[string]string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	create := make(map[string]string, len(props)+1)
	for k, v := range props {
		create[k] = v
	}
	create["email"] = email

	var out contactResponse
	status, body, err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", contactBody{Properties: create}, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return out.ID, nil
	case http.StatusConflict:
		return c.updateByEmail(ctx, email, props)
	default:
		return "", &APIError{Op: "create contact", Status: status, Body: body}
	}
}

func (c *Client) updateByEmail(ctx context.Context, email string, props map[string]string) (string, error) {
	search := map[string]any{
		"filterGroups": []any{map[string]any{
			"filters": []any{map[string]any{
				"propertyName": "email",
				"operator":     "EQ",
				"value":        email,
			}},
		}},
	}
	var found searchResponse
	status, body, err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", search, &found)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &APIError{Op: "search contact", Status: status, Body: body}
	}
	if len(found.Results) == 0 {
		return "", ErrContactNotFound
	}
	id := found.Results[0].ID

	var out contactResponse
	status, body, err = c.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+id, contactBody{Properties: props}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &APIError{Op: "update contact", Status: status, Body: body}
	}
	if out.ID != "" {
		id = out.ID
	}
	return id, nil
}

// TrackEvent posts a named timeline event for the contact with this email.
func (c *Client) TrackEvent(ctx context.Context, email, name string, props map[string]string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	if props == nil {
		props = map[string]string{}
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	payload := map[string]any{
		"eventTemplateId": name,
		"email":           email,
		"tokens":          props,
		"timestamp":       now().UTC().Format(time.RFC3339),
	}
	status, body, err := c.do(ctx, http.MethodPost, "/crm/v3/timeline/events", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return &APIError{Op: "track event", Status: status, Body: body}
	}
	return nil
}

// do sends a JSON request and decodes a 2xx JSON body into out (if non-nil).
// Non-2xx bodies are returned as text, capped for error messages.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, string, error) {
	buf, err := json.Marshal(in)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("hubspot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.StatusCode, "", fmt.Errorf("hubspot decode: %w", err)
			}
		}
		return resp.StatusCode, "", nil
	}
	body := string(raw)
	if len(body) > 512 {
		body = body[:512]
	}
	return resp.StatusCode, body, nil
}

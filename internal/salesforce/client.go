// Package salesforce syncs user profiles into a Salesforce org as
// Account/Contact pairs using the client-credentials OAuth flow.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const apiVersion = "v59.0"

// ErrNotConfigured is returned when the client has no credentials.
var ErrNotConfigured = errors.New("salesforce is not configured")

// Profile is the data pushed to Salesforce for one user.
type Profile struct {
	Email   string
	Name    string
	Company string
	Phone   string
}

// Refs are the Salesforce record IDs linked to a user after a sync.
type Refs struct {
	AccountID string
	ContactID string
}

// Client talks to one Salesforce org. A zero ClientID disables it.
type Client struct {
	httpClient   *http.Client
	authURL      string
	instanceURL  string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(authURL, instanceURL, clientID, clientSecret string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		authURL:      strings.TrimSuffix(authURL, "/"),
		instanceURL:  strings.TrimSuffix(instanceURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.clientID != ""
}

// SyncProfile creates or updates the Account and Contact for a user.
// Existing refs are patched in place; missing ones are created, with the
// Contact linked to the Account.
func (c *Client) SyncProfile(ctx context.Context, existing Refs, p Profile) (Refs, error) {
	if !c.Configured() {
		return Refs{}, ErrNotConfigured
	}

	accountName := p.Company
	if accountName == "" {
		accountName = p.Name
	}
	if accountName == "" {
		accountName = p.Email
	}

	refs := existing
	accountFields := map[string]any{"Name": accountName, "Phone": p.Phone}
	if refs.AccountID == "" {
		id, err := c.createObject(ctx, "Account", accountFields)
		if err != nil {
			return Refs{}, fmt.Errorf("create account: %w", err)
		}
		refs.AccountID = id
	} else if err := c.patchObject(ctx, "Account", refs.AccountID, accountFields); err != nil {
		return Refs{}, fmt.Errorf("update account: %w", err)
	}

	firstName, lastName := splitName(p.Name, p.Email)
	contactFields := map[string]any{
		"FirstName": firstName,
		"LastName":  lastName,
		"Email":     p.Email,
		"Phone":     p.Phone,
		"AccountId": refs.AccountID,
	}
	if refs.ContactID == "" {
		id, err := c.createObject(ctx, "Contact", contactFields)
		if err != nil {
			return Refs{}, fmt.Errorf("create contact: %w", err)
		}
		refs.ContactID = id
	} else if err := c.patchObject(ctx, "Contact", refs.ContactID, contactFields); err != nil {
		return Refs{}, fmt.Errorf("update contact: %w", err)
	}

	return refs, nil
}

func splitName(name, email string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", email
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token request failed: %s: %s", resp.Status, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		InstanceURL string `json:"instance_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	c.accessToken = payload.AccessToken
	if payload.InstanceURL != "" {
		c.instanceURL = strings.TrimSuffix(payload.InstanceURL, "/")
	}
	// Client-credentials tokens live for the org session timeout; refresh
	// well before the usual two-hour minimum.
	c.tokenExpiry = time.Now().Add(90 * time.Minute)
	return c.accessToken, nil
}

func (c *Client) createObject(ctx context.Context, object string, fields map[string]any) (string, error) {
	respBody, status, err := c.call(ctx, http.MethodPost, "/services/data/"+apiVersion+"/sobjects/"+object, fields)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("%s create returned %d: %s", object, status, respBody)
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("decode %s create response: %w", object, err)
	}
	return payload.ID, nil
}

func (c *Client) patchObject(ctx context.Context, object, id string, fields map[string]any) error {
	respBody, status, err := c.call(ctx, http.MethodPatch, "/services/data/"+apiVersion+"/sobjects/"+object+"/"+id, fields)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("%s update returned %d: %s", object, status, respBody)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body map[string]any) ([]byte, int, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.instanceURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call salesforce: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// Package graph is a thin Microsoft Graph client covering the profile and
// To Do endpoints the proxy forwards. Every call acts with the caller's own
// Microsoft access token; payloads are passed through untouched.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public Graph v1.0 root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const maxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned instead of forwarding a truncated body.
var ErrResponseTooLarge = errors.New("graph: response exceeds size limit")

// APIError is a non-2xx answer from Graph.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: %d", e.StatusCode)
}

// Unauthorized reports whether Graph rejected the access token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Profile is the subset of /me used to identify a Microsoft account.
type Profile struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

// Email returns the mailbox address, falling back to the UPN for accounts
// without a mailbox.
func (p Profile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

// Client calls Graph on behalf of a bearer token supplied per call.
type Client struct {
	baseURL string
	base    *http.Client
}

// NewClient returns a client rooted at baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{baseURL: baseURL, base: &http.Client{Timeout: timeout}}
}

// Me returns the profile of the token's owner.
func (c *Client) Me(ctx context.Context, token string) (Profile, error) {
	raw, err := c.do(ctx, token, http.MethodGet, "/me", nil)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("graph: decode /me: %w", err)
	}
	if p.ID == "" {
		return Profile{}, errors.New("graph: /me returned no id")
	}
	return p, nil
}

// Lists returns the caller's To Do task lists.
func (c *Client) Lists(ctx context.Context, token string) (json.RawMessage, error) {
	return c.do(ctx, token, http.MethodGet, "/me/todo/lists", nil)
}

// Tasks returns the tasks of one list.
func (c *Client) Tasks(ctx context.Context, token, listID string) (json.RawMessage, error) {
	return c.do(ctx, token, http.MethodGet, tasksPath(listID), nil)
}

// CreateTask creates a task in listID from a Graph todoTask payload.
func (c *Client) CreateTask(ctx context.Context, token, listID string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, token, http.MethodPost, tasksPath(listID), body)
}

// UpdateTask patches a task.
func (c *Client) UpdateTask(ctx context.Context, token, listID, taskID string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, token, http.MethodPatch, tasksPath(listID)+"/"+url.PathEscape(taskID), body)
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, token, listID, taskID string) error {
	_, err := c.do(ctx, token, http.MethodDelete, tasksPath(listID)+"/"+url.PathEscape(taskID), nil)
	return err
}

func tasksPath(listID string) string {
	return "/me/todo/lists/" + url.PathEscape(listID) + "/tasks"
}

func (c *Client) do(ctx context.Context, token, method, path string, body json.RawMessage) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("graph: %s %s: %w", method, path, ErrResponseTooLarge)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return nil, apiErr
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

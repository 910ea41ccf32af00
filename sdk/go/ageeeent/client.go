// Package ageeeent is a small HTTP client for the Ageeeent session API.
package ageeeent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the session API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Submission is the payload used to start a new session.
// Supplementary carries the user's answers to a clarification questionnaire.
type Submission struct {
	ID            string         `json:"id,omitempty"`
	Goal          string         `json:"goal"`
	Supplementary string         `json:"supplementary,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Question is one entry of a clarification questionnaire.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Questionnaire lists the questions worth asking before a goal is submitted.
type Questionnaire struct {
	Goal      string     `json:"goal"`
	Questions []Question `json:"questions"`
}

// Result summarises a finished run.
type Result struct {
	Outcome  string `json:"outcome"`
	Cycles   int    `json:"cycles"`
	Archived int    `json:"archived"`
	Summary  string `json:"summary,omitempty"`
}

// Session is the queue-level view of a session.
type Session struct {
	ID         string         `json:"id"`
	Goal       string         `json:"goal"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *Result        `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Terminal reports whether the session reached a final status.
func (s Session) Terminal() bool {
	switch s.Status {
	case "succeeded", "failed", "cancelled":
		return true
	}
	return false
}

// Snapshot is the live controller state of a running or recently finished session.
// The plan tree and history are kept raw so callers can decode only what they need.
type Snapshot struct {
	SessionID        string            `json:"session_id"`
	Goal             string            `json:"goal"`
	State            string            `json:"state"`
	Status           string            `json:"status,omitempty"`
	StrategicAttempt int               `json:"strategic_attempt"`
	Cycle            int               `json:"cycle"`
	Brief            json.RawMessage   `json:"brief"`
	WorkingMemory    map[string]string `json:"working_memory"`
	History          json.RawMessage   `json:"history"`
	Archived         bool              `json:"archived,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ageeeent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ageeeent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client with
// DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit queues a new session.
func (c *Client) Submit(ctx context.Context, sub Submission) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodPost, "/api/v1/sessions", sub, &s)
	return s, err
}

// Questionnaire asks the server for clarification questions about goal.
func (c *Client) Questionnaire(ctx context.Context, goal string) (Questionnaire, error) {
	var q Questionnaire
	err := c.call(ctx, http.MethodPost, "/api/v1/questionnaire", map[string]string{"goal": goal}, &q)
	return q, err
}

// Get fetches the queue-level state of a session.
func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &s)
	return s, err
}

// Snapshot fetches the live controller state.
func (c *Client) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	var s Snapshot
	err := c.call(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id)+"/snapshot", nil, &s)
	return s, err
}

// Stop asks the server to stop a running session or cancel a queued one.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/stop", nil, nil)
}

// Wait polls Get until the session is terminal or ctx is done.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (Session, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, err := c.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if s.Terminal() {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint)})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

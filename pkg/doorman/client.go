package doorman

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
	"time"
)

// Client calls the Doorman API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sets the API key sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// NewClient creates a client for the Doorman API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckBooking runs a fraud assessment for a booking attempt without
// creating a booking.
func (c *Client) CheckBooking(ctx context.Context, userID, restaurantID string) (*Assessment, error) {
	var out Assessment
	err := c.post(ctx, "/v1/fraud/check", map[string]string{
		"userId":       userID,
		"restaurantId": restaurantID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckRateLimit consumes one request against the quota for action.
// A denied quota is returned as an *APIError with status 429; use
// IsRateLimited to detect it.
func (c *Client) CheckRateLimit(ctx context.Context, identifier, action string) (*Decision, error) {
	var out Decision
	err := c.post(ctx, "/v1/ratelimit/check", map[string]string{
		"identifier": identifier,
		"action":     action,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RateLimitStatus reports current quota usage without consuming a request.
func (c *Client) RateLimitStatus(ctx context.Context, identifier, action string) (*QuotaStatus, error) {
	path := "/v1/ratelimit/" + url.PathEscape(identifier) + "/status"
	if action != "" {
		path += "?action=" + url.QueryEscape(action)
	}
	var out QuotaStatus
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckContent screens text for profanity and spam patterns.
func (c *Client) CheckContent(ctx context.Context, text string) (*ModerationResult, error) {
	var out ModerationResult
	err := c.post(ctx, "/v1/moderation/check", map[string]string{"text": text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UserFlags reports whether a user has unresolved escalations.
func (c *Client) UserFlags(ctx context.Context, userID string) (*FlagStatus, error) {
	var out FlagStatus
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(userID)+"/flags", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportEvent records a suspicious-activity event. Requires an API key.
func (c *Client) ReportEvent(ctx context.Context, event Event) error {
	return c.post(ctx, "/v1/events", event, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

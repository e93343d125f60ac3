// Package api is the authenticated HTTP client for the trolley backend.
// It attaches the bearer token, refreshes it once on an invalid-token 401,
// and classifies failures so callers can tell "the server said no" apart
// from "the request never arrived".
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// TokenStateHeader carries the backend's out-of-band token validity signal.
// A 401 without this header set to "invalid" is an ordinary rejection and
// does not trigger a refresh.
const TokenStateHeader = "X-Token-State"

const requestTimeout = 30 * time.Second

// RefreshFunc exchanges whatever long-lived credential the app holds for a
// fresh access token. The auth flow itself lives outside this package.
type RefreshFunc func(ctx context.Context) (string, error)

type Client struct {
	http    *resty.Client
	refresh RefreshFunc
	logger  *slog.Logger

	mu    sync.RWMutex
	token string

	// Concurrent 401s coalesce into a single refresh call.
	refreshGroup singleflight.Group
}

// New creates a client for the backend at baseURL. refresh may be nil, in
// which case an invalid-token 401 surfaces as ErrSessionExpired immediately.
func New(baseURL string, refresh RefreshFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Client{
		http:    rc,
		refresh: refresh,
		logger:  logger,
	}
}

// SetToken replaces the in-memory access token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken drops the in-memory access token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) Put(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, endpoint, body)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, endpoint, body)
}

func (c *Client) Delete(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, endpoint, body)
}

// Do issues an arbitrary request. It exists for queue replay, where the
// method and endpoint come from a persisted mutation rather than a typed
// call site.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, method, endpoint, body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	resp, err := c.execute(ctx, method, endpoint, body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode() == http.StatusUnauthorized && resp.Header().Get(TokenStateHeader) == "invalid" {
		c.ClearToken()
		if err := c.refreshToken(ctx); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrSessionExpired)
		}
		resp, err = c.execute(ctx, method, endpoint, body)
		if err != nil {
			return nil, &NetworkError{Err: err}
		}
	}

	if resp.IsSuccess() {
		return json.RawMessage(resp.Body()), nil
	}
	return nil, c.responseError(resp)
}

func (c *Client) execute(ctx context.Context, method, endpoint string, body any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if tok := c.currentToken(); tok != "" {
		req.SetHeader("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.SetBody(body)
	}
	return req.Execute(method, endpoint)
}

// refreshToken runs at most one refresh at a time; concurrent 401s share the
// in-flight call and all observe its outcome.
func (c *Client) refreshToken(ctx context.Context) error {
	if c.refresh == nil {
		return ErrSessionExpired
	}
	tok, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		c.logger.Warn("token refresh failed", "error", err)
		return err
	}
	c.SetToken(tok.(string))
	c.logger.Debug("access token refreshed")
	return nil
}

func (c *Client) responseError(resp *resty.Response) error {
	apiErr := &Error{Status: resp.StatusCode(), Code: "unknown", Body: resp.Body()}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Code != "" {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Message
	}
	return apiErr
}

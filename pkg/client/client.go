// Package client is the acebot SDK: a typed HTTP client for the daemon's
// card protocol endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/retry"
)

// DefaultEndpoint is used when NewClient gets an empty endpoint.
const DefaultEndpoint = "http://127.0.0.1:8090"

// Client is the acebot SDK client. It is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	caller   Caller
	backoff  retry.BackoffStrategy
	attempts int
}

// NewClient creates a new acebot client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff:  retry.DefaultBackoff(),
		attempts: 3,
	}
}

// As returns a copy of the client acting for caller.
func (c *Client) As(caller Caller) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

// WithRetry returns a copy of the client that tries idempotent requests up
// to attempts times. Actions are never retried.
func (c *Client) WithRetry(b retry.BackoffStrategy, attempts int) *Client {
	cp := *c
	cp.backoff = b
	cp.attempts = attempts
	return &cp
}

// CardView fetches the card to show. A non-empty magicCode completes a
// pending sign-in first.
func (c *Client) CardView(ctx context.Context, magicCode string) (card.CardView, error) {
	var v card.CardView
	body := map[string]string{}
	if magicCode != "" {
		body["magicCode"] = magicCode
	}
	err := c.retrying(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/v1/cardview", body, &v)
	})
	return v, err
}

// QuickView fetches a quick view. data, when not nil, is bound into the
// view's template.
func (c *Client) QuickView(ctx context.Context, id card.ViewID, data map[string]any) (card.QuickView, error) {
	if id == "" {
		return card.QuickView{}, fmt.Errorf("invalid quick view request: missing view id")
	}
	var v card.QuickView
	err := c.retrying(ctx, func(ctx context.Context) error {
		body := map[string]any{"viewId": id}
		if data != nil {
			body["data"] = data
		}
		return c.do(ctx, http.MethodPost, "/v1/quickview", body, &v)
	})
	return v, err
}

// Action invokes an action. It is sent once.
func (c *Client) Action(ctx context.Context, id string, data map[string]any) (ActionResponse, error) {
	if id == "" {
		return ActionResponse{}, fmt.Errorf("invalid action: missing id")
	}
	var resp ActionResponse
	err := c.do(ctx, http.MethodPost, "/v1/action", map[string]any{"id": id, "data": data}, &resp)
	return resp, err
}

// ExchangeToken sends an SSO token exchange invoke.
func (c *Client) ExchangeToken(ctx context.Context, x TokenExchange) (ExchangeResult, error) {
	var res ExchangeResult
	err := c.do(ctx, http.MethodPost, "/v1/signin/tokenexchange", x, &res)
	return res, err
}

// Catalog lists the views and action ids the daemon serves.
func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var cat Catalog
	err := c.retrying(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/v1/catalog", nil, &cat)
	})
	return cat, err
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &st)
	return st, err
}

// DevSignIn follows a dev sign-in link and returns the magic code. Only
// daemons running the dev identity provider serve it.
func (c *Client) DevSignIn(ctx context.Context, link string) (string, error) {
	path := link
	if strings.HasPrefix(link, c.endpoint) {
		path = strings.TrimPrefix(link, c.endpoint)
	} else if i := strings.Index(link, "/v1/dev/signin"); i >= 0 {
		path = link[i:]
	}
	var res struct {
		MagicCode string `json:"magicCode"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return "", err
	}
	return res.MagicCode, nil
}

func (c *Client) retrying(ctx context.Context, fn func(context.Context) error) error {
	if c.attempts <= 1 {
		return fn(ctx)
	}
	return retry.Do(ctx, c.backoff, c.attempts, func(ctx context.Context) error {
		err := fn(ctx)
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller.ID != "" {
		req.Header.Set("X-Caller-ID", c.caller.ID)
		if c.caller.Channel != "" {
			req.Header.Set("X-Channel-ID", c.caller.Channel)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("unexpected_status_%d", resp.StatusCode)
		}
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

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmax-ai/acebot/pkg/retry"
)

// DefaultEndpoint is the Microsoft Graph v1.0 root.
const DefaultEndpoint = "https://graph.microsoft.com/v1.0"

// Client calls a Graph style REST API with the caller's bearer token.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  retry.BackoffStrategy
	attempts int
}

// NewClient creates a Graph client. endpoint defaults to DefaultEndpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		backoff:  retry.DefaultBackoff(),
		attempts: 3,
	}
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type wireMessage struct {
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             recipient `json:"from"`
}

func (c *Client) CurrentUser(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, token, http.MethodGet, "/me", nil, &u); err != nil {
		return User{}, fmt.Errorf("get current user: %w", err)
	}
	return u, nil
}

func (c *Client) RecentMessages(ctx context.Context, token string, count int) ([]Message, error) {
	if count <= 0 {
		count = 10
	}
	q := url.Values{}
	q.Set("$top", strconv.Itoa(count))
	q.Set("$select", "from,subject,receivedDateTime")
	q.Set("$orderby", "receivedDateTime desc")

	var page struct {
		Value []wireMessage `json:"value"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/me/messages?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]Message, 0, len(page.Value))
	for _, m := range page.Value {
		from := m.From.EmailAddress.Name
		if from == "" {
			from = m.From.EmailAddress.Address
		}
		out = append(out, Message{From: from, Subject: m.Subject, ReceivedAt: m.ReceivedDateTime})
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, token string, msg OutgoingMessage) error {
	body := map[string]any{
		"message": map[string]any{
			"subject": msg.Subject,
			"body": map[string]string{
				"contentType": "Text",
				"content":     msg.Body,
			},
			"toRecipients": []recipient{{EmailAddress: emailAddress{Address: msg.To}}},
		},
		"saveToSentItems": true,
	}
	if err := c.do(ctx, token, http.MethodPost, "/me/sendMail", body, nil); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	return retry.Do(ctx, c.backoff, c.attempts, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return retry.Permanent(fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

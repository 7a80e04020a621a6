package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rmax-ai/acebot/pkg/retry"
)

// TokenServiceConfig configures the remote token service client.
type TokenServiceConfig struct {
	Endpoint       string
	ConnectionName string
	// AppID is embedded in the sign-in state.
	AppID string
	// AppToken authenticates this service to the token service.
	AppToken string
	Timeout  time.Duration
	Attempts int
}

// TokenService implements Provider against a Bot Framework style token
// service. Server errors are retried with exponential backoff; 404 means
// the caller has no token.
type TokenService struct {
	cfg     TokenServiceConfig
	http    *http.Client
	backoff retry.BackoffStrategy
}

// NewTokenService creates a token service client.
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &TokenService{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		backoff: retry.DefaultBackoff(),
	}
}

func (t *TokenService) ConnectionName() string { return t.cfg.ConnectionName }

type tokenResponse struct {
	ChannelID      string `json:"channelId"`
	ConnectionName string `json:"connectionName"`
	Token          string `json:"token"`
	Expiration     string `json:"expiration"`
}

func (r tokenResponse) token() Token {
	tok := Token{Value: r.Token, ConnectionName: r.ConnectionName}
	if exp, err := time.Parse(time.RFC3339, r.Expiration); err == nil {
		tok.Expiration = exp
	}
	return tok
}

func (t *TokenService) userQuery(caller Caller) url.Values {
	q := url.Values{}
	q.Set("userId", caller.ID)
	q.Set("connectionName", t.cfg.ConnectionName)
	q.Set("channelId", caller.Channel)
	return q
}

func (t *TokenService) GetToken(ctx context.Context, caller Caller, magicCode string) (Token, error) {
	q := t.userQuery(caller)
	if magicCode != "" {
		q.Set("code", magicCode)
	}
	var out tokenResponse
	status, err := t.do(ctx, http.MethodGet, "/api/usertoken/GetToken", q, nil, &out)
	if err != nil {
		return Token{}, err
	}
	if status == http.StatusNotFound || out.Token == "" {
		return Token{}, fmt.Errorf("caller %s: %w", caller.Key(), ErrNoToken)
	}
	return out.token(), nil
}

type signInState struct {
	ConnectionName string `json:"connectionName"`
	UserID         string `json:"userId"`
	ChannelID      string `json:"channelId"`
	MsAppID        string `json:"msAppId,omitempty"`
}

func (t *TokenService) SignInLink(ctx context.Context, caller Caller) (string, error) {
	raw, err := json.Marshal(signInState{
		ConnectionName: t.cfg.ConnectionName,
		UserID:         caller.ID,
		ChannelID:      caller.Channel,
		MsAppID:        t.cfg.AppID,
	})
	if err != nil {
		return "", fmt.Errorf("encode sign-in state: %w", err)
	}
	q := url.Values{}
	q.Set("state", base64.URLEncoding.EncodeToString(raw))

	var link string
	status, err := t.do(ctx, http.MethodGet, "/api/botsignin/GetSignInUrl", q, nil, &link)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || link == "" {
		return "", fmt.Errorf("sign-in link: unexpected status %d", status)
	}
	return link, nil
}

func (t *TokenService) SignOut(ctx context.Context, caller Caller) error {
	status, err := t.do(ctx, http.MethodDelete, "/api/usertoken/SignOut", t.userQuery(caller), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("sign out: unexpected status %d", status)
	}
	return nil
}

func (t *TokenService) ExchangeToken(ctx context.Context, caller Caller, exchangeToken string) (Token, error) {
	body := map[string]string{"token": exchangeToken}
	var out tokenResponse
	status, err := t.do(ctx, http.MethodPost, "/api/usertoken/exchange", t.userQuery(caller), body, &out)
	if err != nil {
		return Token{}, err
	}
	if status != http.StatusOK || out.Token == "" {
		return Token{}, fmt.Errorf("%w: status %d", ErrExchangeFailed, status)
	}
	return out.token(), nil
}

// do performs one call with retries on transport errors and 5xx. The
// returned status is that of the last attempt; 2xx bodies decode into out.
func (t *TokenService) do(ctx context.Context, method, path string, q url.Values, in any, out any) (int, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
	}
	endpoint := t.cfg.Endpoint + path + "?" + q.Encode()

	var status int
	err := retry.Do(ctx, t.backoff, t.cfg.Attempts, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if t.cfg.AppToken != "" {
			req.Header.Set("Authorization", "Bearer "+t.cfg.AppToken)
		}

		resp, err := t.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if status >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("token service: status %d", status)
		}
		if status < 200 || status > 299 || out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s response: %w", path, err))
		}
		return nil
	})
	return status, err
}

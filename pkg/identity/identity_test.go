package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ada = Caller{ID: "ada", Channel: "msteams"}

func stateFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestDevProvider_SignInHandshake(t *testing.T) {
	ctx := context.Background()
	p := NewDevProvider(DevConfig{BaseURL: "http://127.0.0.1:8090/", Users: map[string]Principal{
		"ada": {Name: "Ada Lovelace", UPN: "ada@contoso.test"},
	}})

	_, err := p.GetToken(ctx, ada, "")
	assert.True(t, errors.Is(err, ErrNoToken))

	link, err := p.SignInLink(ctx, ada)
	require.NoError(t, err)
	assert.Contains(t, link, "http://127.0.0.1:8090/v1/dev/signin?state=")

	code, err := p.Redeem(stateFrom(t, link))
	require.NoError(t, err)
	assert.Len(t, code, 6)

	_, err = p.Redeem(stateFrom(t, link))
	assert.True(t, errors.Is(err, ErrUnknownState), "state is single use")

	tok, err := p.GetToken(ctx, ada, code)
	require.NoError(t, err)
	principal, err := ParseClaims(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, Principal{Name: "Ada Lovelace", UPN: "ada@contoso.test"}, principal)

	again, err := p.GetToken(ctx, ada, "")
	require.NoError(t, err)
	assert.Equal(t, tok.Value, again.Value)

	require.NoError(t, p.SignOut(ctx, ada))
	_, err = p.GetToken(ctx, ada, "")
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestDevProvider_RejectsWrongOrExpiredCode(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewDevProvider(DevConfig{CodeTTL: time.Minute})
	p.SetClock(func() time.Time { return now })

	link, err := p.SignInLink(ctx, ada)
	require.NoError(t, err)
	code, err := p.Redeem(stateFrom(t, link))
	require.NoError(t, err)

	_, err = p.GetToken(ctx, ada, "000000")
	assert.True(t, errors.Is(err, ErrNoToken))

	_, err = p.GetToken(ctx, Caller{ID: "bob", Channel: "msteams"}, code)
	assert.True(t, errors.Is(err, ErrNoToken), "code is bound to the caller")

	now = now.Add(2 * time.Minute)
	_, err = p.GetToken(ctx, ada, code)
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestDevProvider_PendingSignInsAreBounded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewDevProvider(DevConfig{StateTTL: time.Minute})
	p.SetClock(func() time.Time { return now })

	first, err := p.SignInLink(ctx, ada)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		link, err := p.SignInLink(ctx, ada)
		require.NoError(t, err)
		require.Equal(t, first, link)
	}
	_, err = p.SignInLink(ctx, Caller{ID: "bob", Channel: "msteams"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Pending())

	now = now.Add(2 * time.Minute)
	assert.Zero(t, p.Pending())
	_, err = p.Redeem(stateFrom(t, first))
	assert.ErrorIs(t, err, ErrUnknownState)

	fresh, err := p.SignInLink(ctx, ada)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	_, err = p.Redeem(stateFrom(t, fresh))
	require.NoError(t, err)
	assert.Zero(t, p.Pending())
}

func TestDevProvider_WrongCodesBurnTheCode(t *testing.T) {
	ctx := context.Background()
	p := NewDevProvider(DevConfig{MaxAttempts: 3})
	issue := func() string {
		link, err := p.SignInLink(ctx, ada)
		require.NoError(t, err)
		code, err := p.Redeem(stateFrom(t, link))
		require.NoError(t, err)
		return code
	}
	wrong := func(code string) string {
		if code == "100000" {
			return "100001"
		}
		return "100000"
	}

	code := issue()
	for i := 0; i < 2; i++ {
		_, err := p.GetToken(ctx, ada, wrong(code))
		require.ErrorIs(t, err, ErrNoToken)
	}
	_, err := p.GetToken(ctx, ada, code)
	require.NoError(t, err, "a typo below the cap keeps the code")

	code = issue()
	for i := 0; i < 3; i++ {
		_, err := p.GetToken(ctx, ada, wrong(code))
		require.ErrorIs(t, err, ErrNoToken)
	}
	_, err = p.GetToken(ctx, ada, code)
	assert.ErrorIs(t, err, ErrNoToken, "the code is burned after the last attempt")
}

func TestCallerKey_IsUnambiguous(t *testing.T) {
	a := Caller{Channel: "a/b", ID: "c"}
	b := Caller{Channel: "a", ID: "b/c"}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "msteams/ada", ada.Key())
}

func TestDevProvider_ExchangeToken(t *testing.T) {
	ctx := context.Background()
	p := NewDevProvider(DevConfig{})

	sso, err := p.Mint(Principal{Name: "Grace", UPN: "grace@contoso.test"})
	require.NoError(t, err)

	tok, err := p.ExchangeToken(ctx, ada, sso)
	require.NoError(t, err)
	principal, err := ParseClaims(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "Grace", principal.Name)

	_, err = p.ExchangeToken(ctx, ada, "not-a-jwt")
	assert.True(t, errors.Is(err, ErrExchangeFailed))
}

func TestParseClaims_PreferredUsernameFallback(t *testing.T) {
	// {"alg":"none"}.{"name":"Ada","preferred_username":"ada@contoso.test"}.
	raw := "eyJhbGciOiJub25lIn0.eyJuYW1lIjoiQWRhIiwicHJlZmVycmVkX3VzZXJuYW1lIjoiYWRhQGNvbnRvc28udGVzdCJ9."
	p, err := ParseClaims(raw)
	require.NoError(t, err)
	assert.Equal(t, Principal{Name: "Ada", UPN: "ada@contoso.test"}, p)
}

func TestDevProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDevProvider(DevConfig{})
	_, err := p.GetToken(ctx, ada, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, p.SignOut(ctx, ada), context.Canceled)
}

func TestTokenService(t *testing.T) {
	var getCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/usertoken/GetToken", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer app-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// First call fails to exercise the retry path.
		if getCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		if q.Get("userId") != "ada" || q.Get("connectionName") != "graph" || q.Get("channelId") != "msteams" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if q.Get("code") != "" && q.Get("code") != "123456" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(tokenResponse{Token: "tok", ConnectionName: "graph", Expiration: "2030-01-01T00:00:00Z"})
	})
	mux.HandleFunc("/api/botsignin/GetSignInUrl", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("https://login.example.test/?state=" + r.URL.Query().Get("state"))
	})
	mux.HandleFunc("/api/usertoken/SignOut", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/usertoken/exchange", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "sso" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		json.NewEncoder(w).Encode(tokenResponse{Token: "exchanged", ConnectionName: "graph"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	svc := NewTokenService(TokenServiceConfig{Endpoint: ts.URL, ConnectionName: "graph", AppToken: "app-secret"})
	ctx := context.Background()

	tok, err := svc.GetToken(ctx, ada, "")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)
	assert.Equal(t, 2030, tok.Expiration.Year())
	assert.EqualValues(t, 2, getCalls.Load())

	_, err = svc.GetToken(ctx, ada, "999999")
	assert.True(t, errors.Is(err, ErrNoToken))

	link, err := svc.SignInLink(ctx, ada)
	require.NoError(t, err)
	assert.Contains(t, link, "https://login.example.test/?state=")

	assert.NoError(t, svc.SignOut(ctx, ada))

	ex, err := svc.ExchangeToken(ctx, ada, "sso")
	require.NoError(t, err)
	assert.Equal(t, "exchanged", ex.Value)

	_, err = svc.ExchangeToken(ctx, ada, "other")
	assert.True(t, errors.Is(err, ErrExchangeFailed))
}

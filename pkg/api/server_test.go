package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rmax-ai/acebot/pkg/ace"
	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/catalog"
	"github.com/rmax-ai/acebot/pkg/graph"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/sso"
	"github.com/rmax-ai/acebot/pkg/store"
)

type fixture struct {
	handler http.Handler
	dev     *identity.DevProvider
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, catalogName string) *fixture {
	t.Helper()
	c, err := catalog.Embedded(catalogName)
	require.NoError(t, err)

	dev := identity.NewDevProvider(identity.DevConfig{BaseURL: "http://acebot.test"})
	dir := graph.NewMemory()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	gate := auth.NewGate(dev, auth.WithLogger(logger))

	svc, err := ace.New(ace.Config{
		Catalog: c,
		Gate:    gate,
		Mailer:  dir,
		Sources: map[string]ace.DataSource{"recentMessages": ace.RecentMessages(dir)},
		Logger:  logger,
	})
	require.NoError(t, err)

	mem := store.NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })

	srv := NewServer(svc, "",
		WithLogger(logger),
		WithSSO(sso.NewHandler(gate, mem, 0, logger)),
		WithDevSignIn(dev),
	)
	return &fixture{handler: srv.Handler(), dev: dev, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path, callerID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if callerID != "" {
		req.Header.Set(HeaderCallerID, callerID)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestSecureHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	secureHandler := withSecureHeaders(handler)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	secureHandler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
	}
	for key, expected := range expectedHeaders {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("Header %s: expected %q, got %q", key, expected, got)
		}
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := withRecovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_server_error"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic_recovered").Len())
}

func TestLogging_TraceID(t *testing.T) {
	f := newFixture(t, "feedback")
	req := httptest.NewRequest("GET", "/v1/health", nil)
	req.Header.Set(HeaderTraceID, "trace-123")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-123", w.Header().Get(HeaderTraceID))
	entries := f.logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "trace-123", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestHealthAndCatalog(t *testing.T) {
	f := newFixture(t, "feedback")

	w := f.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/catalog", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp CatalogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "feedback", resp.Name)
	assert.False(t, resp.RequireAuth)
	assert.Equal(t, []card.ViewID{"ERROR_CARD_VIEW", "GET_FEEDBACK_CARD_VIEW", "OK_FEEDBACK_CARD_VIEW"}, resp.CardViews)
	assert.Equal(t, []card.ViewID{"FEEDBACK_QUICK_VIEW"}, resp.QuickViews)
	assert.Contains(t, resp.Actions, "SendFeedback")
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, "feedback")

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		code   string
	}{
		{"missing caller", http.MethodPost, "/v1/cardview", "", nil, http.StatusBadRequest, "missing_caller"},
		{"action without id", http.MethodPost, "/v1/action", "bo", map[string]any{"data": map[string]any{}}, http.StatusBadRequest, "missing_required_fields"},
		{"quick view without id", http.MethodPost, "/v1/quickview", "bo", map[string]any{}, http.StatusBadRequest, "missing_required_fields"},
		{"wrong method", http.MethodGet, "/v1/action", "bo", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"unknown path", http.MethodGet, "/v1/nope", "", nil, http.StatusNotFound, "not_found"},
		{"dev sign-in without state", http.MethodGet, "/v1/dev/signin", "", nil, http.StatusBadRequest, "missing_required_fields"},
		{"dev sign-in unknown state", http.MethodGet, "/v1/dev/signin?state=zzz", "", nil, http.StatusNotFound, "unknown_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/action", strings.NewReader("{not json"))
	req.Header.Set(HeaderCallerID, "bo")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_json_body")
}

func TestFeedbackOverHTTP(t *testing.T) {
	f := newFixture(t, "feedback")

	w := f.do(t, http.MethodPost, "/v1/action", "bo", map[string]any{
		"id":   "SendFeedback",
		"data": map[string]any{"feedbackValue": "works", "viewToNavigateTo": "OK_FEEDBACK_CARD_VIEW"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ResponseType    string        `json:"responseType"`
		RenderArguments card.CardView `json:"renderArguments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, card.ResponseCard, resp.ResponseType)
	assert.Equal(t, card.ViewID("OK_FEEDBACK_CARD_VIEW"), resp.RenderArguments.ViewID)
	assert.Contains(t, resp.RenderArguments.Parameters.Header[0].Text, "'works'")
}

func TestQuickViewDataOverHTTP(t *testing.T) {
	f := newFixture(t, "feedback")

	w := f.do(t, http.MethodPost, "/v1/quickview", "bo", map[string]any{
		"viewId": "FEEDBACK_QUICK_VIEW",
		"data":   map[string]any{"feedback": "works"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var qv card.QuickView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &qv))
	assert.Equal(t, card.ViewID("FEEDBACK_QUICK_VIEW"), qv.ViewID)
	raw, err := json.Marshal(qv.Template)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "You wrote: works")
}

// TestSignInEndToEnd walks the magic code handshake over HTTP: the sign-in
// card, the consent page, the code submission and the home card.
func TestSignInEndToEnd(t *testing.T) {
	f := newFixture(t, "secured")

	w := f.do(t, http.MethodPost, "/v1/cardview", "ada", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var signIn card.CardView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &signIn))
	require.Equal(t, card.ViewID("SIGN_IN_CARD_VIEW"), signIn.ViewID)

	link, err := url.Parse(signIn.AceData.Properties["uri"].(string))
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, link.RequestURI(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var code DevSignInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &code))
	require.Len(t, code.MagicCode, 6)

	// The sign-in quick view posts the code as a number.
	body := []byte(`{"id":"SubmitMagicCode","data":{"magicCode":` + code.MagicCode + `}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/action", bytes.NewReader(body))
	req.Header.Set(HeaderCallerID, "ada")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"viewId":"HOME_CARD_VIEW"`)
	assert.Contains(t, rec.Body.String(), "Welcome ada!")

	w = f.do(t, http.MethodPost, "/v1/cardview", "ada", nil)
	assert.Contains(t, w.Body.String(), "You are: ada@contoso.test")

	// Another caller is still signed out.
	w = f.do(t, http.MethodPost, "/v1/cardview", "bob", nil)
	assert.Contains(t, w.Body.String(), `"viewId":"SIGN_IN_CARD_VIEW"`)
}

func TestTokenExchange(t *testing.T) {
	f := newFixture(t, "welcome")
	tok, err := f.dev.Mint(identity.Principal{Name: "Ada", UPN: "ada@contoso.test"})
	require.NoError(t, err)

	exchange := map[string]any{"id": "x-1", "connectionName": "dev", "token": tok}
	w := f.do(t, http.MethodPost, "/v1/signin/tokenexchange", "ada", exchange)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp TokenExchangeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsAuthenticated)
	assert.Equal(t, "Ada", resp.PrincipalName)

	w = f.do(t, http.MethodPost, "/v1/signin/tokenexchange", "ada", exchange)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/cardview", "ada", nil)
	assert.Contains(t, w.Body.String(), "Welcome Ada!")

	w = f.do(t, http.MethodPost, "/v1/signin/tokenexchange", "ada", map[string]any{"id": "x-2", "token": "not-a-jwt"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = f.do(t, http.MethodPost, "/v1/signin/tokenexchange", "ada", map[string]any{"id": "x-3", "connectionName": "other", "token": tok})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "feedback")
	f.do(t, http.MethodPost, "/v1/cardview", "bo", nil)

	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acebot_requests_total")
}

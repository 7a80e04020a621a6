package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/retry"
)

var fastBackoff = &retry.ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

func TestClient_CardView(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cardview" {
			t.Errorf("Expected path /v1/cardview, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Caller-ID"); got != "ada" {
			t.Errorf("Expected caller ada, got %q", got)
		}
		if got := r.Header.Get("X-Channel-ID"); got != "teams" {
			t.Errorf("Expected channel teams, got %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["magicCode"] != "123456" {
			t.Errorf("Expected magic code in body, got %v", body)
		}
		json.NewEncoder(w).Encode(card.CardView{ViewID: "HOME_CARD_VIEW"})
	}))
	defer server.Close()

	c := NewClient(server.URL).As(Caller{ID: "ada", Channel: "teams"})
	v, err := c.CardView(context.Background(), "123456")
	if err != nil {
		t.Fatalf("CardView() error = %v", err)
	}
	if v.ViewID != "HOME_CARD_VIEW" {
		t.Errorf("CardView() view = %s, want HOME_CARD_VIEW", v.ViewID)
	}
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		call      func(c *Client) error
		status    int
		wantCalls int32
	}{
		{
			name:      "CardViewRetriesServerErrors",
			call:      func(c *Client) error { _, err := c.CardView(context.Background(), ""); return err },
			status:    http.StatusServiceUnavailable,
			wantCalls: 3,
		},
		{
			name:      "CardViewDoesNotRetryClientErrors",
			call:      func(c *Client) error { _, err := c.CardView(context.Background(), ""); return err },
			status:    http.StatusBadRequest,
			wantCalls: 1,
		},
		{
			name:      "ActionIsSentOnce",
			call:      func(c *Client) error { _, err := c.Action(context.Background(), "SignOut", nil); return err },
			status:    http.StatusServiceUnavailable,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			}))
			defer server.Close()

			c := NewClient(server.URL).As(Caller{ID: "ada"}).WithRetry(fastBackoff, 3)
			err := tt.call(c)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != "nope" {
				t.Errorf("unexpected error %+v", apiErr)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestClient_ActionResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID   string         `json:"id"`
			Data map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ID == "quick-view" {
			json.NewEncoder(w).Encode(card.QuickViewResponse(card.QuickView{ViewID: "Q", Title: "Quick"}))
			return
		}
		json.NewEncoder(w).Encode(card.CardResponse(card.CardView{ViewID: card.ViewID(body.Data["viewToNavigateTo"].(string))}))
	}))
	defer server.Close()

	c := NewClient(server.URL).As(Caller{ID: "ada"})
	resp, err := c.Action(context.Background(), "OkError", map[string]any{"viewToNavigateTo": "HOME"})
	if err != nil {
		t.Fatalf("Action() error = %v", err)
	}
	v, err := resp.Card()
	if err != nil || v.ViewID != "HOME" {
		t.Errorf("Card() = %v, %v", v.ViewID, err)
	}
	if _, err := resp.QuickView(); err == nil {
		t.Error("QuickView() on a card response should fail")
	}

	resp, err = c.Action(context.Background(), "quick-view", map[string]any{"viewId": "Q"})
	if err != nil {
		t.Fatalf("Action() error = %v", err)
	}
	qv, err := resp.QuickView()
	if err != nil || qv.Title != "Quick" {
		t.Errorf("QuickView() = %v, %v", qv.Title, err)
	}
}

func TestClient_DevSignIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dev/signin" || r.URL.Query().Get("state") != "abc" {
			t.Errorf("unexpected request %s", r.URL)
		}
		json.NewEncoder(w).Encode(map[string]string{"magicCode": "424242"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	// Links minted for another host name still resolve against the endpoint.
	code, err := c.DevSignIn(context.Background(), "http://acebot.example/v1/dev/signin?state=abc")
	if err != nil {
		t.Fatalf("DevSignIn() error = %v", err)
	}
	if code != "424242" {
		t.Errorf("DevSignIn() = %s, want 424242", code)
	}
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Expected path /v1/health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Status{Status: "ok"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if status.Status != "ok" {
		t.Errorf("Ping() status = %s, want ok", status.Status)
	}
}

func TestClient_QuickViewRequiresID(t *testing.T) {
	c := NewClient("")
	if _, err := c.QuickView(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty view id")
	}
}

func TestClient_QuickViewSendsData(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quickview" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(card.QuickView{ViewID: "Q"})
	}))
	defer server.Close()

	c := NewClient(server.URL).As(Caller{ID: "ada"})
	qv, err := c.QuickView(context.Background(), "Q", map[string]any{"filter": "unread"})
	if err != nil {
		t.Fatalf("QuickView() error = %v", err)
	}
	if qv.ViewID != "Q" {
		t.Errorf("QuickView() id = %s, want Q", qv.ViewID)
	}
	data, _ := body["data"].(map[string]any)
	if body["viewId"] != "Q" || data["filter"] != "unread" {
		t.Errorf("unexpected body: %v", body)
	}
}

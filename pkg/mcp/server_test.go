package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestMCPServer_ReadCatalog(t *testing.T) {
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/catalog" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name": "secured", "requireAuth": true, "cardViews": ["HOME_CARD_VIEW"], "quickViews": ["USER_EMAILS_QUICK_VIEW"]}`))
			return
		}
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	s := NewServer(ts.URL, "")

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: CatalogURI,
		},
	}

	result, err := s.handleReadCatalog(context.Background(), req)
	if err != nil {
		t.Fatalf("handleReadCatalog failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 resource content, got %d", len(result))
	}

	content, ok := result[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("Expected TextResourceContents")
	}
	if content.MIMEType != "application/json" {
		t.Errorf("Expected application/json, got %s", content.MIMEType)
	}

	var cat map[string]interface{}
	if err := json.Unmarshal([]byte(content.Text), &cat); err != nil {
		t.Errorf("Failed to parse result JSON: %v", err)
	}
	if cat["name"] != "secured" {
		t.Errorf("Expected catalog secured, got %v", cat["name"])
	}
}

func TestMCPServer_HandleAction(t *testing.T) {
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/action" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("X-Caller-ID"); got != "user1" {
			t.Errorf("Expected caller user1, got %q", got)
		}
		if got := r.Header.Get("X-Channel-ID"); got != "mcp" {
			t.Errorf("Expected channel mcp, got %q", got)
		}
		var body struct {
			ID   string         `json:"id"`
			Data map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ID != "OkError" || body.Data["viewToNavigateTo"] != "HOME_CARD_VIEW" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"responseType": "Card", "renderArguments": {"viewId": "HOME_CARD_VIEW"}}`))
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	s := NewServer(ts.URL, "")

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "handle_action",
			Arguments: map[string]interface{}{
				"caller_id": "user1",
				"action_id": "OkError",
				"data":      map[string]interface{}{"viewToNavigateTo": "HOME_CARD_VIEW"},
			},
		},
	}

	result, err := s.handleAction(context.Background(), req)
	if err != nil {
		t.Fatalf("handleAction failed: %v", err)
	}
	if result.IsError {
		t.Errorf("Expected success, got error")
	}
	if len(result.Content) == 0 {
		t.Fatalf("Expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected TextContent, got %T", result.Content[0])
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(text.Text), &resp); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if resp["responseType"] != "Card" {
		t.Errorf("Expected Card response, got %v", resp["responseType"])
	}
}

func TestMCPServer_RequiresCaller(t *testing.T) {
	s := NewServer("http://127.0.0.1:1", "")
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "get_card_view",
			Arguments: map[string]interface{}{},
		},
	}
	result, err := s.handleGetCardView(context.Background(), req)
	if err != nil {
		t.Fatalf("handleGetCardView failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected an error result without caller_id")
	}
}

func TestMCPServer_GetQuickView(t *testing.T) {
	var gotBody map[string]any
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quickview" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"viewId": "USER_EMAILS_QUICK_VIEW", "title": "Your email messages", "template": {"type": "AdaptiveCard"}}`))
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	s := NewServer(ts.URL, "teams")
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "get_quick_view",
			Arguments: map[string]interface{}{
				"caller_id": "user1",
				"view_id":   "USER_EMAILS_QUICK_VIEW",
				"data":      `{"filter": "unread"}`,
			},
		},
	}
	result, err := s.handleGetQuickView(context.Background(), req)
	if err != nil {
		t.Fatalf("handleGetQuickView failed: %v", err)
	}
	if result.IsError {
		t.Errorf("Expected success, got error")
	}
	data, _ := gotBody["data"].(map[string]any)
	if gotBody["viewId"] != "USER_EMAILS_QUICK_VIEW" || data["filter"] != "unread" {
		t.Errorf("unexpected quick view body: %v", gotBody)
	}
}

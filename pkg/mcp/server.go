package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/client"
)

// CatalogURI is the resource listing the daemon's views.
const CatalogURI = "acebot://catalog"

// Server adapts acebot-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
	channel   string
}

// NewServer creates a new MCP server instance. Tool calls act for the
// caller_id they name on the given channel.
func NewServer(apiURL, channel string) *Server {
	if channel == "" {
		channel = "mcp"
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"acebot",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
		channel:   channel,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		CatalogURI,
		"Acebot View Catalog",
		mcp.WithResourceDescription("Card views, quick views and action ids served by the daemon"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadCatalog)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"get_card_view",
		mcp.WithDescription("Fetch the card a user currently sees. Returns the sign-in card when they are signed out."),
		mcp.WithString("caller_id", mcp.Required(), mcp.Description("The user the card is rendered for")),
		mcp.WithString("magic_code", mcp.Description("Magic code completing a pending sign-in")),
	), s.handleGetCardView)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_quick_view",
		mcp.WithDescription("Fetch one quick view, such as the recent emails panel."),
		mcp.WithString("caller_id", mcp.Required(), mcp.Description("The user the view is rendered for")),
		mcp.WithString("view_id", mcp.Required(), mcp.Description("Quick view id from the catalog")),
		mcp.WithObject("data", mcp.Description("Values bound into the quick view template")),
	), s.handleGetQuickView)

	s.mcpServer.AddTool(mcp.NewTool(
		"handle_action",
		mcp.WithDescription("Press a button: invoke an action id with its form data and return the resulting view."),
		mcp.WithString("caller_id", mcp.Required(), mcp.Description("The user pressing the button")),
		mcp.WithString("action_id", mcp.Required(), mcp.Description("Action id, e.g. 'OkError' or 'sign-out'")),
		mcp.WithObject("data", mcp.Description("Form data, e.g. {\"viewToNavigateTo\": \"HOME_CARD_VIEW\"}")),
	), s.handleAction)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"acebot-host",
		mcp.WithPromptDescription("Explains how to drive acebot cards as a host"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) as(request mcp.CallToolRequest) (*client.Client, error) {
	id := mcp.ParseString(request, "caller_id", "")
	if id == "" {
		return nil, fmt.Errorf("caller_id is required")
	}
	return s.apiClient.As(client.Caller{ID: id, Channel: s.channel}), nil
}

// objectArg reads an object argument sent either as an object or as a JSON
// string.
func objectArg(request mcp.CallToolRequest, key string) (map[string]any, error) {
	var data map[string]any
	switch v := request.GetArguments()[key].(type) {
	case map[string]any:
		data = v
	case string:
		if v != "" {
			if err := json.Unmarshal([]byte(v), &data); err != nil {
				return nil, fmt.Errorf("%s is not a JSON object: %v", key, err)
			}
		}
	}
	return data, nil
}

func (s *Server) handleReadCatalog(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cat, err := s.apiClient.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetCardView(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.as(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := c.CardView(ctx, mcp.ParseString(request, "magic_code", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return jsonResult(v)
}

func (s *Server) handleGetQuickView(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.as(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := objectArg(request, "data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := c.QuickView(ctx, card.ViewID(mcp.ParseString(request, "view_id", "")), data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return jsonResult(v)
}

func (s *Server) handleAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.as(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actionID := mcp.ParseString(request, "action_id", "")
	if actionID == "" {
		return mcp.NewToolResultError("action_id is required"), nil
	}

	data, err := objectArg(request, "data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := c.Action(ctx, actionID, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return jsonResult(resp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "acebot-host" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are acting as the host of an acebot card extension.

Concepts:
- Card view: the small panel a user sees. Buttons on it either open a quick view or submit an action.
- Quick view: a larger Adaptive Card panel, opened by id.
- Action: a button press, sent as an action id plus form data. The answer is the next card or quick view.
- Sign-in: a signed-out user sees the sign-in card. Its aceData.properties.uri starts the handshake and yields a magic code.

Start with get_card_view. Use the catalog resource to learn the view and action ids.
Pass viewToNavigateTo in the data of acknowledge actions, as the card's button declares it.
`

	return mcp.NewGetPromptResult(
		"acebot-host",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

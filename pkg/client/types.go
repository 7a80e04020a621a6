package client

import (
	"encoding/json"
	"fmt"

	"github.com/rmax-ai/acebot/pkg/card"
)

// Caller identifies the user the client acts for.
type Caller struct {
	// ID is the required user id, sent as X-Caller-ID.
	ID string
	// Channel is the host channel, sent as X-Channel-ID. Default: "default".
	Channel string
}

// Status is the daemon health.
type Status struct {
	Status string `json:"status"`
}

// Roles names the card views the daemon falls back to.
type Roles struct {
	Home       card.ViewID `json:"home"`
	Error      card.ViewID `json:"error"`
	SignIn     card.ViewID `json:"signIn,omitempty"`
	SignedOut  card.ViewID `json:"signedOut,omitempty"`
	ErrorQuick card.ViewID `json:"errorQuick,omitempty"`
}

// Catalog lists what the daemon serves.
type Catalog struct {
	Name        string        `json:"name"`
	RequireAuth bool          `json:"requireAuth"`
	Views       Roles         `json:"views"`
	CardViews   []card.ViewID `json:"cardViews"`
	QuickViews  []card.ViewID `json:"quickViews"`
	Actions     []string      `json:"actions"`
}

// ActionResponse is the answer to an action. Call Card or QuickView
// depending on ResponseType.
type ActionResponse struct {
	ResponseType    string          `json:"responseType"`
	RenderArguments json.RawMessage `json:"renderArguments,omitempty"`
}

// Card decodes a Card response.
func (r ActionResponse) Card() (card.CardView, error) {
	var v card.CardView
	if r.ResponseType != card.ResponseCard {
		return v, fmt.Errorf("response is %q, not a card", r.ResponseType)
	}
	err := json.Unmarshal(r.RenderArguments, &v)
	return v, err
}

// QuickView decodes a QuickView response.
func (r ActionResponse) QuickView() (card.QuickView, error) {
	var v card.QuickView
	if r.ResponseType != card.ResponseQuickView {
		return v, fmt.Errorf("response is %q, not a quick view", r.ResponseType)
	}
	err := json.Unmarshal(r.RenderArguments, &v)
	return v, err
}

// TokenExchange is an SSO token exchange invoke.
type TokenExchange struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token"`
}

// ExchangeResult is the daemon's answer to a token exchange.
type ExchangeResult struct {
	ID              string `json:"id"`
	ConnectionName  string `json:"connectionName"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	PrincipalName   string `json:"principalName,omitempty"`
}

// APIError is a non-2xx answer.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Reason     string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("acebot: %d %s (%s)", e.StatusCode, e.Code, e.Reason)
	}
	return fmt.Sprintf("acebot: %d %s", e.StatusCode, e.Code)
}

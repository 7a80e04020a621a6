package api

import (
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/catalog"
)

// Caller headers. The host binding authenticates the caller; this service
// trusts the ids it is given.
const (
	HeaderCallerID  = "X-Caller-ID"
	HeaderChannelID = "X-Channel-ID"
	HeaderTraceID   = "X-Trace-ID"

	defaultChannel = "default"
)

// CatalogResponse matches the response for GET /v1/catalog
type CatalogResponse struct {
	Name        string        `json:"name"`
	RequireAuth bool          `json:"requireAuth"`
	Views       catalog.Roles `json:"views"`
	CardViews   []card.ViewID `json:"cardViews"`
	QuickViews  []card.ViewID `json:"quickViews"`
	Actions     []string      `json:"actions"`
}

// DevSignInResponse matches the response for GET /v1/dev/signin
type DevSignInResponse struct {
	MagicCode string `json:"magicCode"`
}

// TokenExchangeResponse matches the response for POST /v1/signin/tokenexchange
type TokenExchangeResponse struct {
	ID              string `json:"id"`
	ConnectionName  string `json:"connectionName"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	PrincipalName   string `json:"principalName,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Package identity talks to the token collaborator that owns the OAuth
// connection: fetching a caller's token, issuing sign-in links, signing out
// and exchanging SSO tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken means the caller has no token for the connection. A magic
	// code that does not match also ends here.
	ErrNoToken = errors.New("no token for caller")
	// ErrExchangeFailed means an SSO token could not be exchanged.
	ErrExchangeFailed = errors.New("token exchange failed")
)

// Caller identifies who is on the other end of a turn.
type Caller struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// Key is the storage key of the caller. Both parts are path-escaped so the
// separator cannot occur inside either of them.
func (c Caller) Key() string {
	return url.PathEscape(c.Channel) + "/" + url.PathEscape(c.ID)
}

// Token is a user token for one OAuth connection.
type Token struct {
	Value          string    `json:"token"`
	ConnectionName string    `json:"connectionName"`
	Expiration     time.Time `json:"expiration,omitempty"`
}

// Principal is the signed-in user as shown on cards.
type Principal struct {
	Name string `json:"name"`
	UPN  string `json:"upn"`
}

// Provider is the identity collaborator.
type Provider interface {
	// GetToken returns the caller's token. A non-empty magicCode completes a
	// pending sign-in first.
	GetToken(ctx context.Context, caller Caller, magicCode string) (Token, error)
	SignInLink(ctx context.Context, caller Caller) (string, error)
	SignOut(ctx context.Context, caller Caller) error
	// ExchangeToken trades a host-issued SSO token for a connection token.
	ExchangeToken(ctx context.Context, caller Caller, exchangeToken string) (Token, error)
	ConnectionName() string
}

// ParseClaims reads the display name and user principal name out of a JWT
// without verifying it. The token service already vouched for the token.
func ParseClaims(raw string) (Principal, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Principal{}, fmt.Errorf("parse token claims: %w", err)
	}
	p := Principal{
		Name: claimString(claims, "name"),
		UPN:  claimString(claims, "upn"),
	}
	if p.UPN == "" {
		p.UPN = claimString(claims, "preferred_username")
	}
	if p.Name == "" && p.UPN == "" {
		return Principal{}, fmt.Errorf("parse token claims: no name or upn claim")
	}
	return p, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

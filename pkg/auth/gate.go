// Package auth decides per request whether the caller is signed in. It turns
// every identity collaborator failure into an unauthenticated state.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/graph"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/metrics"
)

// ErrAuthFailure is returned by Require when the caller could not be
// authenticated.
var ErrAuthFailure = errors.New("authentication failed")

// PrincipalSource selects how the signed-in user's name is found.
type PrincipalSource string

const (
	// FromClaims decodes the name and upn claims of the token.
	FromClaims PrincipalSource = "claims"
	// FromDirectory asks the directory for the token owner's profile.
	FromDirectory PrincipalSource = "directory"
)

// State is derived once per request and never stored.
type State struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	PrincipalName   string `json:"principalName,omitempty"`
	PrincipalUPN    string `json:"principalUpn,omitempty"`
	Token           string `json:"-"`
}

// Principal is the template data of the signed-in user.
func (s State) Principal() map[string]any {
	if !s.IsAuthenticated {
		return nil
	}
	return map[string]any{"name": s.PrincipalName, "upn": s.PrincipalUPN}
}

// Gate fronts the identity collaborator.
type Gate struct {
	provider  identity.Provider
	directory graph.Directory
	source    PrincipalSource
	logger    *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithDirectory resolves principals through d.
func WithDirectory(d graph.Directory) Option {
	return func(g *Gate) {
		g.directory = d
		g.source = FromDirectory
	}
}

// WithLogger sets the logger. Failures are logged at warn.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate that reads principals from token claims unless
// WithDirectory is given.
func NewGate(p identity.Provider, opts ...Option) *Gate {
	g := &Gate{provider: p, source: FromClaims, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// ConnectionName is the OAuth connection the gate signs callers into.
func (g *Gate) ConnectionName() string {
	return g.provider.ConnectionName()
}

// Resolve returns the caller's state. A non-empty magicCode completes a
// pending sign-in. Errors are not retried and never escape.
func (g *Gate) Resolve(ctx context.Context, caller identity.Caller, magicCode string) State {
	st, err := g.Require(ctx, caller, magicCode)
	if err != nil {
		if errors.Is(err, identity.ErrNoToken) && magicCode == "" {
			metrics.AuthResolutions.WithLabelValues("unauthenticated").Inc()
			return State{}
		}
		metrics.AuthResolutions.WithLabelValues("failed").Inc()
		g.logger.Warn("auth_resolve_failed",
			zap.String("caller", caller.Key()),
			zap.Bool("magic_code", magicCode != ""),
			zap.Error(err),
		)
		return State{}
	}
	metrics.AuthResolutions.WithLabelValues("authenticated").Inc()
	return st
}

// Require is Resolve with the failure cause, wrapped in ErrAuthFailure.
func (g *Gate) Require(ctx context.Context, caller identity.Caller, magicCode string) (State, error) {
	tok, err := g.provider.GetToken(ctx, caller, magicCode)
	if err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	return g.stateFor(ctx, tok.Value)
}

func (g *Gate) stateFor(ctx context.Context, token string) (State, error) {
	st := State{IsAuthenticated: true, Token: token}
	switch g.source {
	case FromDirectory:
		if g.directory == nil {
			return State{}, fmt.Errorf("%w: no directory configured", ErrAuthFailure)
		}
		u, err := g.directory.CurrentUser(ctx, token)
		if err != nil {
			return State{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
		}
		st.PrincipalName, st.PrincipalUPN = u.DisplayName, u.UserPrincipalName
	default:
		p, err := identity.ParseClaims(token)
		if err != nil {
			return State{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
		}
		st.PrincipalName, st.PrincipalUPN = p.Name, p.UPN
	}
	return st, nil
}

// SignInLink returns the link that starts the sign-in handshake.
func (g *Gate) SignInLink(ctx context.Context, caller identity.Caller) (string, error) {
	link, err := g.provider.SignInLink(ctx, caller)
	if err != nil {
		return "", fmt.Errorf("sign-in link: %w", err)
	}
	return link, nil
}

// SignOut drops the caller's token.
func (g *Gate) SignOut(ctx context.Context, caller identity.Caller) error {
	if err := g.provider.SignOut(ctx, caller); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Exchange trades an SSO token and returns the resulting state.
func (g *Gate) Exchange(ctx context.Context, caller identity.Caller, exchangeToken string) (State, error) {
	tok, err := g.provider.ExchangeToken(ctx, caller, exchangeToken)
	if err != nil {
		return State{}, err
	}
	return g.stateFor(ctx, tok.Value)
}

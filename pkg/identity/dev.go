package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnknownState is returned by Redeem for a sign-in state it never issued.
var ErrUnknownState = errors.New("unknown sign-in state")

// DevConfig configures the in-process identity provider used for local runs
// and tests.
type DevConfig struct {
	ConnectionName string
	// BaseURL is where the daemon serves /v1/dev/signin.
	BaseURL    string
	SigningKey []byte
	Domain     string
	// CodeTTL bounds how long a magic code stays valid.
	CodeTTL time.Duration
	// StateTTL bounds how long a sign-in link can be redeemed.
	StateTTL time.Duration
	// MaxAttempts is how many wrong codes burn the issued one.
	MaxAttempts int
	TokenTTL    time.Duration
	// Users overrides the principal minted for a caller id.
	Users map[string]Principal
}

type issuedCode struct {
	code     string
	expires  time.Time
	attempts int
}

type pendingSignIn struct {
	caller  Caller
	expires time.Time
}

// DevProvider implements Provider in memory. Signing in follows the real
// handshake: the link carries a state, visiting it yields a six digit magic
// code and the code is traded for an HS256 token with name and upn claims.
type DevProvider struct {
	cfg DevConfig
	now func() time.Time

	mu sync.Mutex
	// pending is keyed by state; states holds the one live state per caller.
	pending map[string]pendingSignIn
	states  map[string]string
	codes   map[string]issuedCode
	tokens  map[string]Token
}

// NewDevProvider creates a dev provider.
func NewDevProvider(cfg DevConfig) *DevProvider {
	if cfg.ConnectionName == "" {
		cfg.ConnectionName = "dev"
	}
	if cfg.Domain == "" {
		cfg.Domain = "contoso.test"
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = []byte(uuid.NewString())
	}
	return &DevProvider{
		cfg:     cfg,
		now:     time.Now,
		pending: make(map[string]pendingSignIn),
		states:  make(map[string]string),
		codes:   make(map[string]issuedCode),
		tokens:  make(map[string]Token),
	}
}

// SetClock replaces the time source.
func (p *DevProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

func (p *DevProvider) ConnectionName() string { return p.cfg.ConnectionName }

func (p *DevProvider) SignInLink(ctx context.Context, caller Caller) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	now := p.now()
	p.pruneLocked(now)
	// A caller polling while signed out keeps getting the same link.
	state, ok := p.states[caller.Key()]
	if !ok {
		state = uuid.NewString()
		p.states[caller.Key()] = state
	}
	p.pending[state] = pendingSignIn{caller: caller, expires: now.Add(p.cfg.StateTTL)}
	p.mu.Unlock()
	return fmt.Sprintf("%s/v1/dev/signin?state=%s", strings.TrimRight(p.cfg.BaseURL, "/"), url.QueryEscape(state)), nil
}

// Redeem plays the part of the identity provider's consent page: it consumes
// a sign-in state and returns the magic code the user would type back.
func (p *DevProvider) Redeem(state string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(p.now())
	pending, ok := p.pending[state]
	if !ok {
		return "", ErrUnknownState
	}
	caller := pending.caller
	delete(p.pending, state)
	delete(p.states, caller.Key())

	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate magic code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64()+100000)
	p.codes[caller.Key()] = issuedCode{code: code, expires: p.now().Add(p.cfg.CodeTTL)}
	return code, nil
}

func (p *DevProvider) GetToken(ctx context.Context, caller Caller, magicCode string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := caller.Key()
	now := p.now()

	if magicCode != "" {
		issued, ok := p.codes[key]
		if !ok || now.After(issued.expires) {
			delete(p.codes, key)
			return Token{}, fmt.Errorf("magic code for %s: %w", key, ErrNoToken)
		}
		if issued.code != magicCode {
			issued.attempts++
			if issued.attempts >= p.cfg.MaxAttempts {
				delete(p.codes, key)
			} else {
				p.codes[key] = issued
			}
			return Token{}, fmt.Errorf("magic code for %s: %w", key, ErrNoToken)
		}
		delete(p.codes, key)
		tok, err := p.mint(p.principalFor(caller), now)
		if err != nil {
			return Token{}, err
		}
		p.tokens[key] = tok
		return tok, nil
	}

	tok, ok := p.tokens[key]
	if !ok || now.After(tok.Expiration) {
		delete(p.tokens, key)
		return Token{}, fmt.Errorf("caller %s: %w", key, ErrNoToken)
	}
	return tok, nil
}

func (p *DevProvider) SignOut(ctx context.Context, caller Caller) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.tokens, caller.Key())
	delete(p.codes, caller.Key())
	p.mu.Unlock()
	return nil
}

// ExchangeToken accepts any JWT that names a user and mints a connection
// token for that user.
func (p *DevProvider) ExchangeToken(ctx context.Context, caller Caller, exchangeToken string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	principal, err := ParseClaims(exchangeToken)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.mint(principal, p.now())
	if err != nil {
		return Token{}, err
	}
	p.tokens[caller.Key()] = tok
	return tok, nil
}

// Mint signs a token for the given principal. Tests use it to fabricate SSO
// tokens.
func (p *DevProvider) Mint(principal Principal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.mint(principal, p.now())
	return tok.Value, err
}

// pruneLocked drops sign-in states and codes that expired before now.
func (p *DevProvider) pruneLocked(now time.Time) {
	for state, pending := range p.pending {
		if now.After(pending.expires) {
			delete(p.pending, state)
			delete(p.states, pending.caller.Key())
		}
	}
	for key, issued := range p.codes {
		if now.After(issued.expires) {
			delete(p.codes, key)
		}
	}
}

// Pending reports how many sign-in links are waiting to be redeemed.
func (p *DevProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(p.now())
	return len(p.pending)
}

func (p *DevProvider) principalFor(caller Caller) Principal {
	if u, ok := p.cfg.Users[caller.ID]; ok {
		return u
	}
	return Principal{Name: caller.ID, UPN: caller.ID + "@" + p.cfg.Domain}
}

func (p *DevProvider) mint(principal Principal, now time.Time) (Token, error) {
	exp := now.Add(p.cfg.TokenTTL)
	claims := jwt.MapClaims{
		"name": principal.Name,
		"upn":  principal.UPN,
		"aud":  p.cfg.ConnectionName,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.SigningKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ConnectionName: p.cfg.ConnectionName, Expiration: exp}, nil
}

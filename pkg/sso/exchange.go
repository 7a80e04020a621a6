// Package sso handles the host's silent sign-in invoke. Hosts deliver the
// same token exchange to every replica and may retry it, so each exchange id
// is claimed in shared storage before the token service is called.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/metrics"
	"github.com/rmax-ai/acebot/pkg/store"
)

var (
	// ErrDuplicate means the exchange id was already handled.
	ErrDuplicate = errors.New("duplicate token exchange")
	// ErrConnectionMismatch means the invoke names another OAuth connection.
	ErrConnectionMismatch = errors.New("token exchange for another connection")
	// ErrInvalidRequest means the invoke lacks an id or a token.
	ErrInvalidRequest = errors.New("invalid token exchange request")
)

// Request is the token exchange invoke value.
type Request struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	Token          string `json:"token"`
}

// Exchanger is one side of the gate: it knows how to trade a token.
type Exchanger interface {
	Exchange(ctx context.Context, caller identity.Caller, exchangeToken string) (auth.State, error)
	ConnectionName() string
}

type record struct {
	ExchangeID string    `json:"exchangeId"`
	Caller     string    `json:"caller"`
	At         time.Time `json:"at"`
}

// Handler de-duplicates and performs token exchanges.
type Handler struct {
	gate    Exchanger
	storage store.ClaimingStorage
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewHandler creates a handler. Claims live for ttl, default ten minutes.
func NewHandler(gate Exchanger, storage store.ClaimingStorage, ttl time.Duration, logger *zap.Logger) *Handler {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gate: gate, storage: storage, ttl: ttl, now: time.Now, logger: logger}
}

func claimKey(caller identity.Caller, id string) string {
	return fmt.Sprintf("sso/claim/%s/%s", caller.Key(), id)
}

func lastKey(caller identity.Caller) string {
	return "sso/last/" + caller.Key()
}

// Handle claims req.ID for the caller and exchanges the token. A failed
// exchange releases the claim so the host may retry.
func (h *Handler) Handle(ctx context.Context, caller identity.Caller, req Request) (auth.State, error) {
	if req.ID == "" || req.Token == "" {
		return auth.State{}, ErrInvalidRequest
	}
	if req.ConnectionName != "" && req.ConnectionName != h.gate.ConnectionName() {
		metrics.TokenExchanges.WithLabelValues("rejected").Inc()
		return auth.State{}, fmt.Errorf("%w: %q", ErrConnectionMismatch, req.ConnectionName)
	}

	rec, err := json.Marshal(record{ExchangeID: req.ID, Caller: caller.Key(), At: h.now().UTC()})
	if err != nil {
		return auth.State{}, err
	}
	key := claimKey(caller, req.ID)
	won, err := h.storage.Claim(ctx, key, rec, h.ttl)
	if err != nil {
		return auth.State{}, fmt.Errorf("claim token exchange: %w", err)
	}
	if !won {
		metrics.TokenExchanges.WithLabelValues("duplicate").Inc()
		h.logger.Debug("token_exchange_duplicate", zap.String("caller", caller.Key()), zap.String("exchange_id", req.ID))
		return auth.State{}, ErrDuplicate
	}

	st, err := h.gate.Exchange(ctx, caller, req.Token)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("failed").Inc()
		h.logger.Warn("token_exchange_failed", zap.String("caller", caller.Key()), zap.Error(err))
		// Background context: the release must happen even if ctx is done.
		if derr := h.storage.Delete(context.Background(), []string{key}); derr != nil {
			h.logger.Error("token_exchange_release_failed", zap.String("key", key), zap.Error(derr))
		}
		return auth.State{}, fmt.Errorf("%w: %w", identity.ErrExchangeFailed, err)
	}

	if err := h.storage.Write(ctx, map[string][]byte{lastKey(caller): rec}); err != nil {
		h.logger.Warn("token_exchange_record_failed", zap.String("caller", caller.Key()), zap.Error(err))
	}
	metrics.TokenExchanges.WithLabelValues("ok").Inc()
	return st, nil
}

// LastExchange returns the id and time of the caller's last successful
// exchange.
func (h *Handler) LastExchange(ctx context.Context, caller identity.Caller) (string, time.Time, bool, error) {
	vals, err := h.storage.Read(ctx, []string{lastKey(caller)})
	if err != nil {
		return "", time.Time{}, false, err
	}
	raw, ok := vals[lastKey(caller)]
	if !ok {
		return "", time.Time{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode exchange record: %w", err)
	}
	return rec.ExchangeID, rec.At, true, nil
}

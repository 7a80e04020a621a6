package sso

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/store"
)

var ada = identity.Caller{ID: "ada", Channel: "msteams"}

type countingGate struct {
	*auth.Gate
	calls atomic.Int32
}

func (g *countingGate) Exchange(ctx context.Context, caller identity.Caller, tok string) (auth.State, error) {
	g.calls.Add(1)
	return g.Gate.Exchange(ctx, caller, tok)
}

func setup(t *testing.T) (*Handler, *countingGate, *identity.DevProvider) {
	t.Helper()
	p := identity.NewDevProvider(identity.DevConfig{ConnectionName: "graph"})
	g := &countingGate{Gate: auth.NewGate(p)}
	mem := store.NewMemory(time.Minute)
	t.Cleanup(func() { mem.Close() })
	return NewHandler(g, mem, time.Minute, nil), g, p
}

func TestHandle_ExchangesOnce(t *testing.T) {
	h, g, p := setup(t)
	sso, err := p.Mint(identity.Principal{Name: "Ada", UPN: "ada@contoso.test"})
	require.NoError(t, err)

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := h.Handle(context.Background(), ada, Request{ID: "ex-1", ConnectionName: "graph", Token: sso})
			switch {
			case err == nil && st.IsAuthenticated:
				ok.Add(1)
			case errors.Is(err, ErrDuplicate):
				dup.Add(1)
			default:
				t.Errorf("unexpected result: %+v %v", st, err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 7, dup.Load())
	assert.EqualValues(t, 1, g.calls.Load())

	id, _, found, err := h.LastExchange(context.Background(), ada)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ex-1", id)
}

func TestHandle_FailureReleasesClaim(t *testing.T) {
	h, g, p := setup(t)

	_, err := h.Handle(context.Background(), ada, Request{ID: "ex-2", Token: "garbage"})
	assert.True(t, errors.Is(err, identity.ErrExchangeFailed))

	sso, err := p.Mint(identity.Principal{Name: "Ada", UPN: "ada@contoso.test"})
	require.NoError(t, err)
	st, err := h.Handle(context.Background(), ada, Request{ID: "ex-2", Token: sso})
	require.NoError(t, err)
	assert.Equal(t, "Ada", st.PrincipalName)
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestHandle_Rejections(t *testing.T) {
	h, g, _ := setup(t)

	_, err := h.Handle(context.Background(), ada, Request{ID: "x", ConnectionName: "other", Token: "t"})
	assert.True(t, errors.Is(err, ErrConnectionMismatch))

	_, err = h.Handle(context.Background(), ada, Request{Token: "t"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Zero(t, g.calls.Load())
}

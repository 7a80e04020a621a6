package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/graph"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ada = identity.Caller{ID: "ada", Channel: "msteams"}

type fakeAuth struct {
	signOuts atomic.Int32
	signOut  error
}

func (f *fakeAuth) Require(_ context.Context, _ identity.Caller, code string) (auth.State, error) {
	if code != "123456" {
		return auth.State{}, errors.Join(auth.ErrAuthFailure, identity.ErrNoToken)
	}
	return auth.State{IsAuthenticated: true, PrincipalName: "Ada", PrincipalUPN: "ada@contoso.test", Token: "t"}, nil
}

func (f *fakeAuth) SignOut(context.Context, identity.Caller) error {
	f.signOuts.Add(1)
	return f.signOut
}

type fakeCatalog struct {
	cards, quicks map[card.ViewID]bool
}

func (c fakeCatalog) HasCard(id card.ViewID) bool  { return c.cards[id] }
func (c fakeCatalog) HasQuick(id card.ViewID) bool { return c.quicks[id] }

type fakeMailer struct {
	mu   sync.Mutex
	sent []graph.OutgoingMessage
}

func (m *fakeMailer) SendMessage(_ context.Context, token string, msg graph.OutgoingMessage) error {
	if token == "" {
		return graph.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

var views = Views{Home: "HOME", Error: "ERROR", SignIn: "SIGN_IN", SignedOut: "SIGNED_OUT"}

func newDispatcher(a *fakeAuth, withSignedOut bool) (*Dispatcher, *fakeMailer) {
	cards := map[card.ViewID]bool{"HOME": true, "ERROR": true, "SIGN_IN": true, "FEEDBACK_OK": true}
	if withSignedOut {
		cards["SIGNED_OUT"] = true
	}
	mailer := &fakeMailer{}
	d := New(Config{
		Views:   views,
		Catalog: fakeCatalog{cards: cards, quicks: map[card.ViewID]bool{"EMAILS": true}},
		Auth:    a,
		Mailer:  mailer,
		Now:     func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	return d, mailer
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		id   string
		data map[string]any
		want Request
	}{
		{name: "canonical submit", id: "submit-credential", data: map[string]any{"code": "123456"}, want: SubmitCredential{ID: "submit-credential", Code: "123456"}},
		{name: "alias numeric magic code", id: "SubmitMagicCode", data: map[string]any{"magicCode": json.Number("123456")}, want: SubmitCredential{ID: "SubmitMagicCode", Code: "123456"}},
		{name: "float magic code", id: "SubmitMagicCode", data: map[string]any{"magicCode": float64(654321)}, want: SubmitCredential{ID: "SubmitMagicCode", Code: "654321"}},
		{name: "sign out", id: "SignOut", data: nil, want: SignOut{ID: "SignOut"}},
		{name: "acknowledge", id: "OkError", data: map[string]any{"viewToNavigateTo": "HOME"}, want: Acknowledge{ID: "OkError", Target: "HOME"}},
		{name: "feedback", id: "SendFeedback", data: map[string]any{"feedbackValue": "great", "viewToNavigateTo": "FEEDBACK_OK"}, want: CaptureFreeform{ID: "SendFeedback", Field: "feedbackValue", Value: "great", Target: "FEEDBACK_OK"}},
		{name: "quick view", id: "quick-view", data: map[string]any{"viewId": "EMAILS"}, want: OpenQuickView{ID: "quick-view", ViewID: "EMAILS"}},
		{name: "send mail", id: "SendEmail", data: map[string]any{"to": "bob@contoso.test", "subject": "Hi", "body": "Hello", "viewToNavigateTo": "HOME"}, want: SendMessage{ID: "SendEmail", To: "bob@contoso.test", Subject: "Hi", Body: "Hello", Target: "HOME"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.id, tt.data))
		})
	}
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		data      map[string]any
		wantField string
	}{
		{name: "unknown id", id: "Teleport"},
		{name: "missing code", id: "SubmitMagicCode", data: map[string]any{}, wantField: "magicCode"},
		{name: "ack without target", id: "OkButton", data: map[string]any{}, wantField: "viewToNavigateTo"},
		{name: "blank feedback", id: "SendFeedback", data: map[string]any{"feedbackValue": "  ", "viewToNavigateTo": "X"}, wantField: "feedbackValue"},
		{name: "mail without recipient", id: "SendEmail", data: map[string]any{"subject": "Hi", "viewToNavigateTo": "HOME"}, wantField: "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Decode(tt.id, tt.data)
			u, ok := req.(Unknown)
			require.True(t, ok, "got %T", req)
			assert.Equal(t, KindUnknown, u.Kind())
			if tt.wantField == "" {
				assert.True(t, errors.Is(u.Reason, ErrUnknownAction))
				return
			}
			var mf *MissingFieldError
			require.True(t, errors.As(u.Reason, &mf))
			assert.Equal(t, tt.wantField, mf.Field)
		})
	}
}

func TestDecoder_CustomBinding(t *testing.T) {
	d := NewDecoder(map[string]Binding{"Rate": {Kind: KindCaptureFreeform, Field: "stars"}})
	got := d.Decode("Rate", map[string]any{"stars": 5, "viewToNavigateTo": "HOME"})
	assert.Equal(t, CaptureFreeform{ID: "Rate", Field: "stars", Value: "5", Target: "HOME"}, got)

	_, ok := d.Decode("SubmitMagicCode", map[string]any{"magicCode": "1"}).(Unknown)
	assert.True(t, ok, "default aliases are opt-in")
}

func TestDispatch_Transitions(t *testing.T) {
	signedIn := auth.State{IsAuthenticated: true, PrincipalName: "Ada", Token: "t"}
	tests := []struct {
		name      string
		st        auth.State
		req       Request
		wantCard  card.ViewID
		wantQuick card.ViewID
		wantErr   error
		wantAuth  bool
	}{
		{name: "valid code signs in", req: SubmitCredential{ID: "s", Code: "123456"}, wantCard: "HOME", wantAuth: true},
		{name: "invalid code", req: SubmitCredential{ID: "s", Code: "000000"}, wantCard: "ERROR", wantErr: auth.ErrAuthFailure},
		{name: "acknowledge home", req: Acknowledge{ID: "OkError", Target: "HOME"}, wantCard: "HOME"},
		{name: "acknowledge unregistered", req: Acknowledge{ID: "OkError", Target: "NOWHERE"}, wantCard: "ERROR", wantErr: registry.ErrViewNotFound},
		{name: "quick view", st: signedIn, req: OpenQuickView{ID: "q", ViewID: "EMAILS"}, wantQuick: "EMAILS", wantAuth: true},
		{name: "unknown quick view", req: OpenQuickView{ID: "q", ViewID: "NOPE"}, wantCard: "ERROR", wantErr: registry.ErrViewNotFound},
		{name: "unknown action", req: Unknown{ID: "x", Reason: ErrUnknownAction}, wantCard: "ERROR", wantErr: ErrUnknownAction},
		{name: "send mail unauthenticated", req: SendMessage{ID: "m", To: "b", Subject: "s", Target: "HOME"}, wantCard: "ERROR", wantErr: auth.ErrAuthFailure},
		{name: "send mail", st: signedIn, req: SendMessage{ID: "m", To: "b", Subject: "s", Target: "HOME"}, wantCard: "HOME", wantAuth: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDispatcher(&fakeAuth{}, true)
			out, err := d.Dispatch(context.Background(), ada, tt.st, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCard, out.Card)
			assert.Equal(t, tt.wantQuick, out.Quick)
			assert.Equal(t, tt.wantAuth, out.Auth.IsAuthenticated)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(out.Err, tt.wantErr), "err = %v", out.Err)
			} else {
				assert.NoError(t, out.Err)
			}
		})
	}
}

func TestDispatch_SignOutTarget(t *testing.T) {
	a := &fakeAuth{}
	d, _ := newDispatcher(a, true)
	out, err := d.Dispatch(context.Background(), ada, auth.State{IsAuthenticated: true}, SignOut{ID: "SignOut"})
	require.NoError(t, err)
	assert.Equal(t, card.ViewID("SIGNED_OUT"), out.Card)
	assert.False(t, out.Auth.IsAuthenticated)

	d, _ = newDispatcher(a, false)
	out, err = d.Dispatch(context.Background(), ada, auth.State{IsAuthenticated: true}, SignOut{ID: "SignOut"})
	require.NoError(t, err)
	assert.Equal(t, card.ViewID("SIGN_IN"), out.Card)
	assert.EqualValues(t, 2, a.signOuts.Load())
}

func TestDispatch_SignOutWhenSignedOut(t *testing.T) {
	a := &fakeAuth{signOut: errors.New("token service down")}
	d, _ := newDispatcher(a, true)
	out, err := d.Dispatch(context.Background(), ada, auth.State{}, SignOut{ID: "SignOut"})
	require.NoError(t, err)
	assert.NoError(t, out.Err)
	assert.Equal(t, card.ViewID("SIGNED_OUT"), out.Card)
	assert.Zero(t, a.signOuts.Load(), "the collaborator is not called for a signed-out caller")
}

func TestDispatch_SignOutFailure(t *testing.T) {
	d, _ := newDispatcher(&fakeAuth{signOut: errors.New("token service down")}, true)
	st := auth.State{IsAuthenticated: true}
	out, err := d.Dispatch(context.Background(), ada, st, SignOut{ID: "SignOut"})
	require.NoError(t, err)
	assert.Equal(t, card.ViewID("ERROR"), out.Card)
	assert.True(t, out.Auth.IsAuthenticated, "a failed sign-out keeps the caller's state")
}

func TestDispatch_CaptureFreeform(t *testing.T) {
	d, _ := newDispatcher(&fakeAuth{}, true)
	out, err := d.Dispatch(context.Background(), ada, auth.State{}, CaptureFreeform{ID: "SendFeedback", Field: "feedbackValue", Value: "great", Target: "FEEDBACK_OK"})
	require.NoError(t, err)
	assert.Equal(t, card.ViewID("FEEDBACK_OK"), out.Card)
	assert.Equal(t, map[string]any{"captured": map[string]any{
		"field":       "feedbackValue",
		"value":       "great",
		"collectedAt": "2024-05-01T09:30:00Z",
	}}, out.Data)
}

func TestDispatch_CancelledBeforeEffect(t *testing.T) {
	a := &fakeAuth{}
	d, mailer := newDispatcher(a, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := auth.State{IsAuthenticated: true, Token: "t"}
	for _, req := range []Request{
		SignOut{ID: "SignOut"},
		SendMessage{ID: "m", To: "b", Subject: "s", Target: "HOME"},
		SubmitCredential{ID: "s", Code: "123456"},
	} {
		out, err := d.Dispatch(ctx, ada, st, req)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, out.Card)
		assert.Equal(t, st, out.Auth)
	}
	assert.Zero(t, a.signOuts.Load())
	assert.Empty(t, mailer.sent)
}

func TestDispatch_Concurrent(t *testing.T) {
	d, mailer := newDispatcher(&fakeAuth{}, true)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := auth.State{IsAuthenticated: true, Token: "t"}
			var req Request = SendMessage{ID: "m", To: "b", Subject: "s", Target: "HOME"}
			if i%2 == 0 {
				req = Acknowledge{ID: "OkButton", Target: "HOME"}
			}
			out, err := d.Dispatch(context.Background(), ada, st, req)
			if err != nil || out.Card != "HOME" {
				t.Errorf("dispatch %d: card=%q err=%v", i, out.Card, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, mailer.sent, 25)
}

// Package dispatch is the action state machine: given the caller's auth
// state and a decoded action it performs at most one side effect and names
// the view to answer with. No state is kept between requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/graph"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/metrics"
	"github.com/rmax-ai/acebot/pkg/registry"
)

// Authenticator is the part of the auth gate the dispatcher drives.
type Authenticator interface {
	Require(ctx context.Context, caller identity.Caller, magicCode string) (auth.State, error)
	SignOut(ctx context.Context, caller identity.Caller) error
}

// Catalog answers whether a view exists.
type Catalog interface {
	HasCard(id card.ViewID) bool
	HasQuick(id card.ViewID) bool
}

// Mailer sends mail on behalf of a token owner.
type Mailer interface {
	SendMessage(ctx context.Context, token string, msg graph.OutgoingMessage) error
}

// Views names the card views the state machine falls back to.
type Views struct {
	Home      card.ViewID
	Error     card.ViewID
	SignIn    card.ViewID
	SignedOut card.ViewID
}

// Outcome is where a dispatched action leads. Exactly one of Card and Quick
// is set. Data is merged into the expansion context of that view.
type Outcome struct {
	Kind  Kind
	Card  card.ViewID
	Quick card.ViewID
	Data  map[string]any
	// Auth is the caller's state after the effect.
	Auth auth.State
	// Err is the runtime failure that routed the action to the Error view.
	Err error
}

// Failed reports whether the outcome is the Error view.
func (o Outcome) Failed() bool { return o.Err != nil }

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	views   Views
	catalog Catalog
	auth    Authenticator
	mailer  Mailer
	now     func() time.Time
	logger  *zap.Logger
}

// Config wires a Dispatcher.
type Config struct {
	Views   Views
	Catalog Catalog
	Auth    Authenticator
	// Mailer is optional. Without it send-message routes to the Error view.
	Mailer Mailer
	Now    func() time.Time
	Logger *zap.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		views:   cfg.Views,
		catalog: cfg.Catalog,
		auth:    cfg.Auth,
		mailer:  cfg.Mailer,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Dispatch runs one transition. The returned error is only ever the context
// error: a request cancelled before dispatch performs no effect. Every other
// failure comes back as an Outcome on the Error view.
func (d *Dispatcher) Dispatch(ctx context.Context, caller identity.Caller, st auth.State, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		metrics.Actions.WithLabelValues(string(req.Kind()), "cancelled").Inc()
		return Outcome{Kind: req.Kind(), Auth: st}, err
	}

	out := d.transition(ctx, caller, st, req)

	result := "ok"
	if out.Failed() {
		result = "error"
		d.logger.Warn("action_failed",
			zap.String("action_id", req.ActionID()),
			zap.String("kind", string(req.Kind())),
			zap.String("caller", caller.Key()),
			zap.Error(out.Err),
		)
	} else {
		d.logger.Debug("action_dispatched",
			zap.String("action_id", req.ActionID()),
			zap.String("kind", string(req.Kind())),
			zap.String("card", string(out.Card)),
			zap.String("quick", string(out.Quick)),
		)
	}
	metrics.Actions.WithLabelValues(string(req.Kind()), result).Inc()
	return out, nil
}

func (d *Dispatcher) transition(ctx context.Context, caller identity.Caller, st auth.State, req Request) Outcome {
	switch r := req.(type) {
	case SubmitCredential:
		next, err := d.auth.Require(ctx, caller, r.Code)
		if err != nil {
			return d.fail(r, st, err)
		}
		return Outcome{Kind: r.Kind(), Card: d.views.Home, Auth: next}

	case SignOut:
		// Signing out a caller who is not signed in lands on the same view
		// without calling the collaborator.
		if !st.IsAuthenticated {
			return Outcome{Kind: r.Kind(), Card: d.afterSignOut(r.Target), Auth: st}
		}
		if err := d.auth.SignOut(ctx, caller); err != nil {
			return d.fail(r, st, err)
		}
		return Outcome{Kind: r.Kind(), Card: d.afterSignOut(r.Target), Auth: auth.State{}}

	case Acknowledge:
		if err := d.requireCard(r.Target); err != nil {
			return d.fail(r, st, err)
		}
		return Outcome{Kind: r.Kind(), Card: r.Target, Auth: st}

	case CaptureFreeform:
		if err := d.requireCard(r.Target); err != nil {
			return d.fail(r, st, err)
		}
		return Outcome{
			Kind: r.Kind(),
			Card: r.Target,
			Auth: st,
			Data: map[string]any{
				"captured": map[string]any{
					"field":       r.Field,
					"value":       r.Value,
					"collectedAt": d.now().UTC().Format(time.RFC3339),
				},
			},
		}

	case SendMessage:
		if err := d.requireCard(r.Target); err != nil {
			return d.fail(r, st, err)
		}
		if !st.IsAuthenticated {
			return d.fail(r, st, auth.ErrAuthFailure)
		}
		if d.mailer == nil {
			return d.fail(r, st, errors.New("no mailer configured"))
		}
		msg := graph.OutgoingMessage{To: r.To, Subject: r.Subject, Body: r.Body}
		if err := d.mailer.SendMessage(ctx, st.Token, msg); err != nil {
			return d.fail(r, st, err)
		}
		return Outcome{
			Kind: r.Kind(),
			Card: r.Target,
			Auth: st,
			Data: map[string]any{"sent": map[string]any{"to": r.To, "subject": r.Subject}},
		}

	case OpenQuickView:
		if !d.catalog.HasQuick(r.ViewID) {
			return d.fail(r, st, fmt.Errorf("%s view %q: %w", registry.QuickViews, r.ViewID, registry.ErrViewNotFound))
		}
		return Outcome{Kind: r.Kind(), Quick: r.ViewID, Auth: st}

	case Unknown:
		return d.fail(r, st, r.Reason)
	}
	return d.fail(req, st, fmt.Errorf("%w: %T", ErrUnknownAction, req))
}

func (d *Dispatcher) afterSignOut(target card.ViewID) card.ViewID {
	switch {
	case target != "" && d.catalog.HasCard(target):
		return target
	case d.views.SignedOut != "" && d.catalog.HasCard(d.views.SignedOut):
		return d.views.SignedOut
	case d.views.SignIn != "":
		return d.views.SignIn
	default:
		return d.views.Home
	}
}

func (d *Dispatcher) requireCard(id card.ViewID) error {
	if !d.catalog.HasCard(id) {
		return fmt.Errorf("%s view %q: %w", registry.CardViews, id, registry.ErrViewNotFound)
	}
	return nil
}

func (d *Dispatcher) fail(req Request, st auth.State, err error) Outcome {
	return Outcome{
		Kind: req.Kind(),
		Card: d.views.Error,
		Auth: st,
		Err:  fmt.Errorf("action %q: %w", req.ActionID(), err),
	}
}

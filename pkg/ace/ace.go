// Package ace is the protocol façade. Host bindings call GetCardView,
// GetQuickView and HandleAction; the service composes the registry, the auth
// gate, the dispatcher and the template renderer to answer them.
package ace

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/catalog"
	"github.com/rmax-ai/acebot/pkg/dispatch"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/metrics"
	"github.com/rmax-ai/acebot/pkg/registry"
)

const tracerName = "acebot/ace"

// CardViewRequest asks for the card to show. MagicCode, when set, completes
// a pending sign-in before the card is chosen.
type CardViewRequest struct {
	Caller    identity.Caller `json:"-"`
	MagicCode string          `json:"magicCode,omitempty"`
}

// QuickViewRequest asks for one quick view. Data is bound into the view's
// template next to the registered data.
type QuickViewRequest struct {
	Caller identity.Caller `json:"-"`
	ViewID card.ViewID     `json:"viewId"`
	Data   map[string]any  `json:"data,omitempty"`
}

// ActionRequest is an invoked action: the action id and its form data.
type ActionRequest struct {
	Caller identity.Caller `json:"-"`
	ID     string          `json:"id"`
	Data   map[string]any  `json:"data,omitempty"`
}

// Config wires a Service.
type Config struct {
	Catalog *catalog.Catalog
	// Registry holds the catalog's views. When nil a registry is built from
	// Catalog.
	Registry *registry.Registry
	Gate     *auth.Gate
	// Mailer sends mail for send-message actions. Optional.
	Mailer  dispatch.Mailer
	Sources map[string]DataSource
	Now     func() time.Time
	Logger  *zap.Logger
}

// Service answers the three protocol entry points. It holds no per-caller
// state and is safe for concurrent use.
type Service struct {
	catalog    *catalog.Catalog
	registry   *registry.Registry
	gate       *auth.Gate
	decoder    *dispatch.Decoder
	dispatcher *dispatch.Dispatcher
	sources    map[string]DataSource
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New composes a service. Every data source a quick view names must be
// configured.
func New(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("ace: no catalog")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("ace: no auth gate")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
		if err := cfg.Catalog.Build(reg); err != nil {
			return nil, err
		}
	}
	for _, q := range cfg.Catalog.QuickViews {
		if q.Source == "" {
			continue
		}
		if _, ok := cfg.Sources[q.Source]; !ok {
			return nil, fmt.Errorf("ace: quick view %q: no data source %q", q.ViewID, q.Source)
		}
	}

	c := cfg.Catalog
	return &Service{
		catalog:  c,
		registry: reg,
		gate:     cfg.Gate,
		decoder:  c.Decoder(),
		dispatcher: dispatch.New(dispatch.Config{
			Views: dispatch.Views{
				Home:      c.Views.Home,
				Error:     c.Views.Error,
				SignIn:    c.Views.SignIn,
				SignedOut: c.Views.SignedOut,
			},
			Catalog: reg,
			Auth:    cfg.Gate,
			Mailer:  cfg.Mailer,
			Now:     cfg.Now,
			Logger:  logger.Named("dispatch"),
		}),
		sources: cfg.Sources,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Catalog returns the catalog the service serves.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Registry returns the sealed view registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// GetCardView returns Home when the catalog needs no sign-in or the caller
// is signed in, and the SignIn card otherwise. The only error is the
// context's.
func (s *Service) GetCardView(ctx context.Context, req CardViewRequest) (card.CardView, error) {
	ctx, span := s.tracer.Start(ctx, "ace.GetCardView", trace.WithAttributes(
		attribute.String("caller", req.Caller.Key()),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return card.CardView{}, s.cancelled(span, err)
	}

	var st auth.State
	if s.catalog.RequireAuth || req.MagicCode != "" {
		st = s.gate.Resolve(ctx, req.Caller, req.MagicCode)
	}
	if err := ctx.Err(); err != nil {
		return card.CardView{}, s.cancelled(span, err)
	}

	v := s.landing(ctx, req.Caller, st, s.catalog.Views.Home, nil)
	span.SetAttributes(attribute.String("view", string(v.ViewID)))
	metrics.Requests.WithLabelValues("cardview", string(v.ViewID)).Inc()
	return v, nil
}

// GetQuickView renders a quick view. A view backed by a data source renders
// its template with fresh data for signed-in callers and falls back to the
// registered view otherwise. Unknown ids answer with the error quick view.
func (s *Service) GetQuickView(ctx context.Context, req QuickViewRequest) (card.QuickView, error) {
	ctx, span := s.tracer.Start(ctx, "ace.GetQuickView", trace.WithAttributes(
		attribute.String("caller", req.Caller.Key()),
		attribute.String("view", string(req.ViewID)),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return card.QuickView{}, s.cancelled(span, err)
	}

	var st auth.State
	if def, ok := s.catalog.Quick(req.ViewID); ok && def.Source != "" {
		st = s.gate.Resolve(ctx, req.Caller, "")
	}
	qv := s.renderQuick(ctx, req.ViewID, st, req.Data)
	if err := ctx.Err(); err != nil {
		return card.QuickView{}, s.cancelled(span, err)
	}
	metrics.Requests.WithLabelValues("quickview", string(qv.ViewID)).Inc()
	return qv, nil
}

// HandleAction decodes and dispatches one action and renders the view it
// leads to. Failures answer with the Error card; the only error is the
// context's, in which case no effect was performed.
func (s *Service) HandleAction(ctx context.Context, req ActionRequest) (card.ActionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ace.HandleAction", trace.WithAttributes(
		attribute.String("caller", req.Caller.Key()),
		attribute.String("action", req.ID),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return card.ActionResponse{}, s.cancelled(span, err)
	}

	r := s.decoder.Decode(req.ID, req.Data)
	var st auth.State
	if s.catalog.RequireAuth || needsAuth(r) {
		st = s.gate.Resolve(ctx, req.Caller, "")
	}
	out, err := s.dispatcher.Dispatch(ctx, req.Caller, st, r)
	if err != nil {
		return card.ActionResponse{}, s.cancelled(span, err)
	}
	span.SetAttributes(attribute.String("kind", string(out.Kind)))
	if out.Failed() {
		span.RecordError(out.Err)
	}

	if out.Quick != "" {
		qv := s.renderQuick(ctx, out.Quick, out.Auth, out.Data)
		metrics.Requests.WithLabelValues("action", string(qv.ViewID)).Inc()
		return card.QuickViewResponse(qv), nil
	}
	v := s.landing(ctx, req.Caller, out.Auth, out.Card, out.Data)
	metrics.Requests.WithLabelValues("action", string(v.ViewID)).Inc()
	return card.CardResponse(v), nil
}

// needsAuth reports whether a request acts on the caller's sign-in even in
// catalogs that do not require one.
func needsAuth(r dispatch.Request) bool {
	switch r.(type) {
	case dispatch.SignOut, dispatch.SendMessage:
		return true
	}
	return false
}

func (s *Service) cancelled(span trace.Span, err error) error {
	span.SetStatus(codes.Error, "cancelled")
	span.RecordError(err)
	return err
}

package ace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/metrics"
	"github.com/rmax-ai/acebot/pkg/template"
)

// ErrorQuickViewID names the built-in quick view served when the catalog has
// no error quick view of its own.
const ErrorQuickViewID card.ViewID = "ERROR_QUICK_VIEW"

func builtinErrorQuick() card.QuickView {
	return card.QuickView{
		ViewID: ErrorQuickViewID,
		Title:  "Error",
		Template: map[string]any{
			"type":    "AdaptiveCard",
			"version": "1.5",
			"body": []any{
				map[string]any{"type": "TextBlock", "text": "An error occurred!", "weight": "Bolder", "wrap": true},
			},
		},
	}
}

// landing renders card id for the caller. Home is swapped for SignIn when
// the catalog requires a signed-in caller and this one is not.
func (s *Service) landing(ctx context.Context, caller identity.Caller, st auth.State, id card.ViewID, extra map[string]any) card.CardView {
	if id == s.catalog.Views.Home && s.catalog.RequireAuth && !st.IsAuthenticated {
		id = s.catalog.Views.SignIn
	}
	data := dataContext(st, extra)
	if id != "" && id == s.catalog.Views.SignIn {
		link, err := s.gate.SignInLink(ctx, caller)
		if err != nil {
			s.logger.Warn("sign_in_link_failed", zap.String("caller", caller.Key()), zap.Error(err))
			return s.renderCard(s.catalog.Views.Error, dataContext(st, nil))
		}
		data["signIn"] = map[string]any{
			"uri":            link,
			"connectionName": s.gate.ConnectionName(),
		}
	}
	return s.renderCard(id, data)
}

// dataContext is what card templates bind against. The auth keys win over
// extra so request data cannot pose as the principal.
func dataContext(st auth.State, extra map[string]any) map[string]any {
	data := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		data[k] = v
	}
	data["isAuthenticated"] = st.IsAuthenticated
	delete(data, "principal")
	if p := st.Principal(); p != nil {
		data["principal"] = p
	}
	return data
}

// renderCard expands an owned copy of card id. A missing view or a failed
// expansion falls back to the Error card as registered.
func (s *Service) renderCard(id card.ViewID, data map[string]any) card.CardView {
	v, err := s.registry.Card(id)
	if err == nil {
		var out card.CardView
		if out, err = expandCard(v, data); err == nil {
			return out
		}
	}
	metrics.RenderErrors.Inc()
	s.logger.Error("render_card_failed", zap.String("view", string(id)), zap.Error(err))
	if id == s.catalog.Views.Error {
		return v
	}
	ev, evErr := s.registry.Card(s.catalog.Views.Error)
	if evErr != nil {
		s.logger.Error("error_view_missing", zap.Error(evErr))
	}
	return ev
}

func expandCard(v card.CardView, data map[string]any) (card.CardView, error) {
	doc, err := card.ToDocument(v)
	if err != nil {
		return card.CardView{}, err
	}
	expanded, err := template.Expand(doc, data)
	if err != nil {
		return card.CardView{}, err
	}
	var out card.CardView
	if err := card.FromDocument(expanded, &out); err != nil {
		return card.CardView{}, err
	}
	out.ViewID = v.ViewID
	return out, nil
}

// renderQuick renders quick view id. Views backed by a data source expand
// their dynamic template with fresh data when the caller is signed in.
func (s *Service) renderQuick(ctx context.Context, id card.ViewID, st auth.State, extra map[string]any) card.QuickView {
	def, ok := s.catalog.Quick(id)
	if !ok {
		s.logger.Warn("quick_view_unknown", zap.String("view", string(id)))
		return s.errorQuick()
	}
	qv, err := s.registry.Quick(id)
	if err != nil {
		s.logger.Warn("quick_view_unknown", zap.String("view", string(id)), zap.Error(err))
		return s.errorQuick()
	}

	tmpl := qv.Template
	data := card.CloneMap(qv.Data)
	if data == nil {
		data = make(map[string]any)
	}
	if def.Source != "" && st.IsAuthenticated {
		fetched, err := s.sources[def.Source].Fetch(ctx, st, def)
		if err != nil {
			s.logger.Warn("quick_view_source_failed",
				zap.String("view", string(id)),
				zap.String("source", def.Source),
				zap.Error(err),
			)
		} else {
			for k, v := range fetched {
				data[k] = v
			}
			tmpl = def.DynamicTemplate
		}
	}

	scope := dataContext(st, extra)
	for k, v := range data {
		scope[k] = v
	}
	expanded, err := template.Expand(tmpl, scope)
	if err != nil {
		metrics.RenderErrors.Inc()
		s.logger.Error("render_quick_view_failed", zap.String("view", string(id)), zap.Error(err))
		return s.errorQuick()
	}
	doc, ok := expanded.(map[string]any)
	if !ok {
		metrics.RenderErrors.Inc()
		s.logger.Error("render_quick_view_failed", zap.String("view", string(id)),
			zap.Error(fmt.Errorf("template expanded to %T", expanded)))
		return s.errorQuick()
	}
	qv.Template = doc
	if len(data) > 0 {
		qv.Data = data
	}
	return qv
}

func (s *Service) errorQuick() card.QuickView {
	if id := s.catalog.Views.ErrorQuick; id != "" {
		if qv, err := s.registry.Quick(id); err == nil {
			return qv
		}
	}
	return builtinErrorQuick()
}

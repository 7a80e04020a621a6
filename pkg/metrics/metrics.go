// Package metrics holds the prometheus collectors of the service. They live
// on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Requests counts protocol entry point calls by the view they answered with.
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acebot_requests_total",
			Help: "Total number of protocol requests served",
		},
		[]string{"entry", "view"},
	)

	// Actions counts dispatched actions by kind and outcome ("ok", "error",
	// "cancelled").
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acebot_actions_total",
			Help: "Total number of actions dispatched",
		},
		[]string{"kind", "outcome"},
	)

	// AuthResolutions counts auth gate results ("authenticated",
	// "unauthenticated", "failed").
	AuthResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acebot_auth_resolutions_total",
			Help: "Total number of caller identity resolutions",
		},
		[]string{"result"},
	)

	// RenderErrors counts template expansions that failed at request time.
	RenderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "acebot_render_errors_total",
			Help: "Total number of failed view renders",
		},
	)

	// TokenExchanges counts SSO token exchange invokes by result.
	TokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acebot_token_exchanges_total",
			Help: "Total number of SSO token exchange invokes",
		},
		[]string{"result"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(Requests)
	prometheus.MustRegister(Actions)
	prometheus.MustRegister(AuthResolutions)
	prometheus.MustRegister(RenderErrors)
	prometheus.MustRegister(TokenExchanges)
}

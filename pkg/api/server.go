// Package api is the HTTP host binding of the card protocol.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/ace"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/registry"
	"github.com/rmax-ai/acebot/pkg/sso"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// DevSignIn plays the identity provider's consent page for the dev provider.
type DevSignIn interface {
	Redeem(state string) (string, error)
}

// Server encapsulates the HTTP API server
type Server struct {
	svc    *ace.Service
	sso    *sso.Handler
	dev    DevSignIn
	logger *zap.Logger
	server *http.Server

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// Option configures a Server.
type Option func(*Server)

// WithSSO enables POST /v1/signin/tokenexchange.
func WithSSO(h *sso.Handler) Option {
	return func(s *Server) { s.sso = h }
}

// WithDevSignIn enables GET /v1/dev/signin.
func WithDevSignIn(d DevSignIn) Option {
	return func(s *Server) { s.dev = d }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTLS configures the server to use TLS
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.tlsCertFile = certFile
		s.tlsKeyFile = keyFile
	}
}

// NewServer creates a new API server instance
func NewServer(svc *ace.Service, addr string, opts ...Option) *Server {
	s := &Server{svc: svc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	// Use default port if addr is empty
	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withLogging(s.logger))
	r.Use(withRecovery(s.logger))
	r.Use(withSecureHeaders)

	r.Get("/v1/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/catalog", s.handleCatalog)

	r.Group(func(r chi.Router) {
		r.Use(withCaller)
		r.Post("/v1/cardview", s.handleCardView)
		r.Post("/v1/quickview", s.handleQuickView)
		r.Post("/v1/action", s.handleAction)
		if s.sso != nil {
			r.Post("/v1/signin/tokenexchange", s.handleTokenExchange)
		}
	})
	if s.dev != nil {
		r.Get("/v1/dev/signin", s.handleDevSignIn)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})
	return r
}

// Handler returns the routed handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	var err error
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server_starting_tls", zap.String("addr", s.server.Addr))
		err = s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	} else {
		s.logger.Info("server_starting", zap.String("addr", s.server.Addr))
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

type callerKey struct{}

// withCaller reads the caller from the request headers.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCallerID))
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing_caller", HeaderCallerID)
			return
		}
		channel := strings.TrimSpace(r.Header.Get(HeaderChannelID))
		if channel == "" {
			channel = defaultChannel
		}
		ctx := context.WithValue(r.Context(), callerKey{}, identity.Caller{ID: id, Channel: channel})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) identity.Caller {
	c, _ := ctx.Value(callerKey{}).(identity.Caller)
	return c
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.svc.Catalog()
	reg := s.svc.Registry()
	resp := CatalogResponse{
		Name:        c.Name,
		RequireAuth: c.RequireAuth,
		Views:       c.Views,
		CardViews:   reg.IDs(registry.CardViews),
		QuickViews:  reg.IDs(registry.QuickViews),
	}
	for id := range c.Decoder().Bindings() {
		resp.Actions = append(resp.Actions, id)
	}
	sort.Strings(resp.Actions)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCardView(w http.ResponseWriter, r *http.Request) {
	var req ace.CardViewRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.Caller = callerFrom(r.Context())
	v, err := s.svc.GetCardView(r.Context(), req)
	if err != nil {
		s.cancelled(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleQuickView(w http.ResponseWriter, r *http.Request) {
	var req ace.QuickViewRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.ViewID == "" {
		writeError(w, http.StatusBadRequest, "missing_required_fields", "viewId")
		return
	}
	req.Caller = callerFrom(r.Context())
	v, err := s.svc.GetQuickView(r.Context(), req)
	if err != nil {
		s.cancelled(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ace.ActionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing_required_fields", "id")
		return
	}
	req.Caller = callerFrom(r.Context())
	resp, err := s.svc.HandleAction(r.Context(), req)
	if err != nil {
		s.cancelled(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req sso.Request
	if !decodeBody(w, r, &req, false) {
		return
	}
	caller := callerFrom(r.Context())
	st, err := s.sso.Handle(r.Context(), caller, req)
	switch {
	case err == nil:
	case errors.Is(err, sso.ErrInvalidRequest), errors.Is(err, sso.ErrConnectionMismatch):
		writeError(w, http.StatusBadRequest, "invalid_token_exchange", err.Error())
		return
	case errors.Is(err, sso.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_token_exchange", "")
		return
	case errors.Is(err, identity.ErrExchangeFailed):
		writeError(w, http.StatusPreconditionFailed, "token_exchange_failed", "")
		return
	case r.Context().Err() != nil:
		s.cancelled(w, r, err)
		return
	default:
		s.logger.Error("token_exchange_error", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, TokenExchangeResponse{
		ID:              req.ID,
		ConnectionName:  req.ConnectionName,
		IsAuthenticated: st.IsAuthenticated,
		PrincipalName:   st.PrincipalName,
	})
}

func (s *Server) handleDevSignIn(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "missing_required_fields", "state")
		return
	}
	code, err := s.dev.Redeem(state)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownState) {
			writeError(w, http.StatusNotFound, "unknown_state", "")
			return
		}
		s.logger.Error("dev_signin_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, DevSignInResponse{MagicCode: code})
}

func (s *Server) cancelled(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("request_cancelled", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "request_cancelled", "")
}

// decodeBody reads a JSON body. Numbers keep their literal form so numeric
// magic codes survive. An empty body is accepted when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, out any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_json_body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, ErrorResponse{Error: code, Reason: reason})
}

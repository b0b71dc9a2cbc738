// Package api provides the HTTP entry points consumed by the portal widget:
// availability checks, the conversational endpoint, project and request type
// listing, attachment upload, and direct request submission.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PortalAssist/internal/access"
	"github.com/BTreeMap/PortalAssist/internal/flow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// Transport-level rate limiting backstop, per client IP. The domain limiter
// inside the engine enforces the per-requester conversational quota.
const (
	httpRateLimit  = 120
	httpRateWindow = time.Minute
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures server creation.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option { return func(o *Opts) { o.Addr = addr } }

// Server exposes the assistant over HTTP.
type Server struct {
	engine    *flow.Engine
	policy    *access.Policy
	ticketing flow.Ticketing
	addr      string
}

// NewServer creates the API server.
func NewServer(engine *flow.Engine, policy *access.Policy, ticketing flow.Ticketing, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{engine: engine, policy: policy, ticketing: ticketing, addr: cfg.Addr}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.Limit(
		httpRateLimit,
		httpRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/availability", s.availabilityHandler)
		r.Post("/chat", s.chatHandler)
		r.Get("/projects", s.projectsHandler)
		r.Get("/servicedesks/{serviceDeskID}/requesttypes", s.requestTypesHandler)
		r.Get("/servicedesks/{serviceDeskID}/requesttypes/{requestTypeID}/fields", s.requestTypeFieldsHandler)
		r.Post("/requests", s.submitRequestHandler)
		r.Post("/conversations/{conversationID}/attachments", s.attachmentsHandler)
	})
	return r
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("PortalAssist API listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Router())
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/forward"
	"github.com/shohag/hookrelay/internal/ingest"
	"github.com/shohag/hookrelay/internal/relay"
	"github.com/shohag/hookrelay/internal/storage"
)

type Server struct {
	cfg       config.ServerConfig
	store     storage.Storage
	forwarder *forward.Forwarder
	hub       *relay.Hub
	router    *chi.Mux
	log       zerolog.Logger
	http      *http.Server
}

// NewServer wires the HTTP surface. hub may be nil when the relay is disabled.
func NewServer(cfg config.ServerConfig, store storage.Storage, forwarder *forward.Forwarder, hub *relay.Hub, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		forwarder: forwarder,
		hub:       hub,
		log:       log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	webhookHandler := NewWebhookHandler(ingest.NewRouter(s.store, s.cfg.MaxBodyBytes, s.log))
	epHandler := NewEndpointHandler(s.store)
	reqHandler := NewRequestHandler(s.store, s.forwarder)
	fwdHandler := NewForwardHandler(s.forwarder)
	relayHandler := NewRelayHandler(s.hub)
	statsHandler := NewStatsHandler(s.store)

	r.Get("/health", statsHandler.Health)

	// Inbound webhooks, every verb
	r.HandleFunc("/webhook", webhookHandler.Ingest)
	r.HandleFunc("/webhook/*", webhookHandler.Ingest)

	r.Post("/api/forward", fwdHandler.Forward)

	r.Get("/relay/connect", relayHandler.Connect)

	r.Route("/api/v1", func(r chi.Router) {
		// Endpoints
		r.Post("/endpoints", epHandler.Create)
		r.Get("/endpoints", epHandler.List)
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Patch("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)
		r.Patch("/endpoints/{id}/toggle", epHandler.Toggle)

		// Captured requests
		r.Get("/requests/{id}", reqHandler.Get)
		r.Get("/requests/{id}/forwards", reqHandler.ListForwards)
		r.Post("/requests/{id}/forward", reqHandler.Forward)

		// Relay
		r.Get("/relay/status", relayHandler.Status)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}

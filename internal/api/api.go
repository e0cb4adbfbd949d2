// Package api provides the HTTP surface of CareLoop.
//
// It exposes endpoints for patient enrollment, session lifecycle, patient
// interactions routed through the orchestrator, insight and alert listings,
// and the websocket notification endpoint backed by the hub.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CareLoop/CareLoop/internal/agents"
	"github.com/CareLoop/CareLoop/internal/bus"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the HTTP endpoints and owns their collaborators.
type Server struct {
	store    store.Store
	orch     *agents.Orchestrator
	bus      bus.Bus
	hub      *notify.Hub
	upgrader websocket.Upgrader

	addr       string
	httpServer *http.Server
}

// NewServer wires the HTTP server. The bus may be nil in tests; event
// publication is then skipped.
func NewServer(s store.Store, orch *agents.Orchestrator, b bus.Bus, hub *notify.Hub, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		store: s,
		orch:  orch,
		bus:   b,
		hub:   hub,
		addr:  cfg.Addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /patients", s.createPatientHandler)
	mux.HandleFunc("GET /patients/{id}", s.getPatientHandler)
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/complete", s.completeSessionHandler)
	mux.HandleFunc("POST /interactions", s.interactionHandler)
	mux.HandleFunc("GET /patients/{id}/insights", s.listInsightsHandler)
	mux.HandleFunc("GET /patients/{id}/alerts", s.listAlertsHandler)
	mux.HandleFunc("GET /ws", s.websocketHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: CareLoop API listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

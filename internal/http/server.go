// Package httpapi serves the REST surface next to the websocket gateway:
// admin queries and commands, location ingest and health endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

// LocationPublisher forwards accepted location updates downstream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Options struct {
	Engine    *engine.Engine
	Gateway   http.Handler
	Verifier  *auth.Verifier
	Locations LocationPublisher
	Checks    []Check
	Logger    *slog.Logger
}

type Server struct {
	engine    *engine.Engine
	gateway   http.Handler
	verifier  *auth.Verifier
	locations LocationPublisher
	checks    []Check
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(o Options) *Server {
	s := &Server{
		engine:    o.Engine,
		gateway:   o.Gateway,
		verifier:  o.Verifier,
		locations: o.Locations,
		checks:    o.Checks,
		logger:    logging.Component(o.Logger, "http"),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.gateway != nil {
		s.mux.Handle("/ws", s.gateway)
	}
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	admin := s.mux.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/rides", s.handleActiveRides).Methods(http.MethodGet)
	admin.HandleFunc("/rides/{id}", s.handleRideStatus).Methods(http.MethodGet)
	admin.HandleFunc("/rides/{id}/assign", s.handleAssign).Methods(http.MethodPost)
	admin.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	admin.HandleFunc("/drivers/{id}/history", s.handleDriverHistory).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

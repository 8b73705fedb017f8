// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the HTTP status, rule and flow endpoints plus the
// Prometheus scrape endpoint.
package api

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rpc"
)

// ServerConfig holds HTTP server timeouts and limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns conservative server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Options holds the server's dependencies.
type Options struct {
	// Admin answers status and rule requests. *ctlplane.Bridge implements it.
	Admin rpc.Admin
	// Conns backs the flows endpoint.
	Conns *conntrack.Table
	// Clock is the clock flow timestamps were taken from.
	Clock clock.Clock
	// Health is checked by /healthz when set, e.g. the rule store's Ping.
	Health func(ctx context.Context) error
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
	Config   *ServerConfig
}

// Server handles API requests.
type Server struct {
	opts   Options
	logger *logging.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("api")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	if opts.Config == nil {
		opts.Config = DefaultServerConfig()
	}
	s := &Server{opts: opts, logger: opts.Logger}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id:[0-9]+}", s.handleDeleteRule).Methods(http.MethodDelete)
	v1.HandleFunc("/flows", s.handleFlows).Methods(http.MethodGet)

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to listen on %s", addr)
	}

	cfg := s.opts.Config
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()
	s.logger.Info("HTTP API listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("HTTP API shutdown incomplete")
		}
		return nil
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, errors.KindUnavailable, "HTTP API stopped")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start))
	})
}

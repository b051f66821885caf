package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ws "github.com/antelayer/streamgate/api/websocket"
	"github.com/antelayer/streamgate/internal/constants"
	"github.com/antelayer/streamgate/pkg/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the outward-facing HTTP server: websocket endpoint, health,
// and metrics
type Server struct {
	httpServer *http.Server
	stream     *ws.Server
	link       *relay.Link
	logger     *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Host       string
	Port       int
	StreamPath string
	Stream     *ws.Server
	Link       *relay.Link
	Logger     *zap.Logger
}

// New creates the HTTP server
func New(cfg Config) *Server {
	s := &Server{
		stream: cfg.Stream,
		link:   cfg.Link,
		logger: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(cfg.StreamPath, cfg.Stream)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: constants.DefaultWriteTimeout,
		IdleTimeout:  constants.DefaultIdleTimeout,
	}

	return s
}

// Start begins serving; it blocks until the listener fails or Shutdown
// is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Stop()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports relay link state and client counts
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.link.State()

	status := http.StatusOK
	body := map[string]interface{}{
		"status":           "ok",
		"relay":            state.String(),
		"relay_changed_at": s.link.LastTransition().UTC().Format(time.RFC3339),
		"clients":          s.stream.Hub().ClientCount(),
	}
	if state == relay.StateDown {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

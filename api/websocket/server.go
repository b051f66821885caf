package websocket

import (
	"net/http"

	"github.com/antelayer/streamgate/pkg/stream"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (should be configured in production)
		return true
	},
}

// SessionFactory builds a streaming session bound to a client sink
type SessionFactory func(sink stream.Sink) *stream.Session

// Server handles client websocket connections
type Server struct {
	hub        *Hub
	chain      string
	newSession SessionFactory
	rps        float64
	burst      int
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Chain             string
	SessionFactory    SessionFactory
	RequestsPerSecond float64
	RequestBurst      int
	Logger            *zap.Logger
}

// NewServer creates a websocket server and starts its hub
func NewServer(cfg Config) *Server {
	hub := NewHub(cfg.Logger)
	go hub.Run()

	return &Server{
		hub:        hub,
		chain:      cfg.Chain,
		newSession: cfg.SessionFactory,
		rps:        cfg.RequestsPerSecond,
		burst:      cfg.RequestBurst,
		logger:     cfg.Logger,
	}
}

// ServeHTTP handles websocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if s.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rps), s.burst)
	}

	client := NewClient(uuid.NewString(), s.hub, conn, limiter, s.logger)
	client.session = s.newSession(client)

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	client.sendJSON(&Handshake{Type: stream.MessageTypeHandshake, Chain: s.chain})

	s.logger.Info("new websocket connection",
		zap.String("client_id", client.id),
		zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop stops the websocket server
func (s *Server) Stop() {
	s.hub.Stop()
}

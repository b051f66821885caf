package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Supervisor owns the relay connection lifecycle: it dials the relay,
// feeds received events into the link, and redials with backoff when the
// connection is lost. State transitions on the link follow the
// connection lifecycle, so broadcasts stay idempotent across repeated
// dial failures.
type Supervisor struct {
	link   *Link
	dialer Dialer
	min    time.Duration
	max    time.Duration
	logger *zap.Logger
}

// NewSupervisor creates a supervisor for the given link
func NewSupervisor(link *Link, dialer Dialer, reconnectMin, reconnectMax time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		link:   link,
		dialer: dialer,
		min:    reconnectMin,
		max:    reconnectMax,
		logger: logger,
	}
}

// Run dials and supervises the relay connection until the context is
// canceled. It blocks; call in a goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.min

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			s.link.onDisconnect()
			s.logger.Warn("relay dial failed",
				zap.Error(err),
				zap.Duration("retry_in", backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.max {
				backoff = s.max
			}
			continue
		}

		backoff = s.min
		s.link.onConnect(conn)
		s.logger.Info("relay connected")

		s.readLoop(ctx, conn)
		conn.Close()
		s.link.onDisconnect()
	}
}

// readLoop pumps events from the connection into the link until the
// connection fails or the context is canceled
func (s *Supervisor) readLoop(ctx context.Context, conn Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("relay read failed", zap.Error(err))
			}
			return
		}
		s.link.HandleEvent(ctx, ev)
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/antelayer/streamgate/internal/constants"
	"github.com/antelayer/streamgate/pkg/stream"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSendBufferFull is returned when a client's outbound buffer is full;
// the connection is treated as unreachable
var ErrSendBufferFull = errors.New("client send buffer full")

// Client is one connected websocket client. It owns the connection's
// read/write pumps and implements stream.Sink for the streaming engine.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session *stream.Session
	limiter *rate.Limiter
	logger  *zap.Logger

	connected atomic.Bool

	// ctx is canceled when the connection closes, stopping in-flight
	// backfills and pending registrations for this client
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for an upgraded connection
func NewClient(id string, hub *Hub, conn *websocket.Conn, limiter *rate.Limiter, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, constants.ClientSendBufferSize),
		limiter: limiter,
		logger:  logger.With(zap.String("client_id", id)),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.connected.Store(true)
	return c
}

// ID implements stream.Sink
func (c *Client) ID() string {
	return c.id
}

// Connected implements stream.Sink
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send implements stream.Sink
func (c *Client) Send(env *stream.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.push(data)
}

// push queues raw bytes for the write pump without blocking
// The send channel is never closed, so concurrent pushes racing a
// disconnect queue harmlessly into the abandoned buffer
func (c *Client) push(data []byte) error {
	if !c.connected.Load() {
		return stream.ErrClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// sendJSON marshals and queues a message, logging on failure
func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if err := c.push(data); err != nil {
		c.logger.Debug("failed to queue message", zap.Error(err))
	}
}

// close marks the client unreachable and cancels its work
func (c *Client) close() {
	if c.connected.CompareAndSwap(true, false) {
		c.cancel()
	}
}

// ReadPump reads client requests and dispatches them
// Each stream request runs in its own goroutine so the two stream kinds
// proceed independently for the same client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.ClientMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.ClientPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.ClientPongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendJSON(&ErrorMessage{Error: "rate limit exceeded"})
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendJSON(&ErrorMessage{Error: "malformed request"})
			continue
		}

		switch req.Type {
		case RequestTypeDeltaStream:
			var dr stream.DeltaRequest
			if err := json.Unmarshal(req.Data, &dr); err != nil {
				c.sendJSON(&ErrorMessage{Error: "malformed delta stream request"})
				continue
			}
			go c.handleDelta(&dr)

		case RequestTypeActionStream:
			var ar stream.ActionRequest
			if err := json.Unmarshal(req.Data, &ar); err != nil {
				c.sendJSON(&ErrorMessage{Error: "malformed action stream request"})
				continue
			}
			go c.handleAction(&ar)

		default:
			c.sendJSON(&ErrorMessage{Error: "unknown request type"})
		}
	}
}

func (c *Client) handleDelta(req *stream.DeltaRequest) {
	ack, err := c.session.HandleDelta(c.ctx, req)
	c.finishRequest(RequestTypeDeltaStream, ack, err)
}

func (c *Client) handleAction(req *stream.ActionRequest) {
	ack, err := c.session.HandleAction(c.ctx, req)
	c.finishRequest(RequestTypeActionStream, ack, err)
}

func (c *Client) finishRequest(reqType string, ack json.RawMessage, err error) {
	switch {
	case err == nil:
		c.sendJSON(&AckMessage{Type: "response", Request: reqType, Result: ack})
	case errors.Is(err, stream.ErrSuperseded), errors.Is(err, stream.ErrClientGone), errors.Is(err, context.Canceled):
		// nothing to tell the client
	default:
		c.logger.Warn("stream request failed", zap.String("request", reqType), zap.Error(err))
		c.sendJSON(&ErrorMessage{Error: "stream request failed"})
	}
}

// WritePump writes queued messages and periodic pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(constants.ClientPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

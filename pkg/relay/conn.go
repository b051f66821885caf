package relay

import (
	"context"
	"sync"
	"time"

	"github.com/antelayer/streamgate/internal/constants"
	"github.com/gorilla/websocket"
)

// Conn is one established connection to the relay process
type Conn interface {
	// ReadEvent blocks until the next event arrives or the connection fails
	ReadEvent() (*Event, error)

	// WriteEvent sends one event to the relay
	WriteEvent(ev *Event) error

	// Close closes the connection
	Close() error
}

// Dialer establishes relay connections
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// wsConn is a websocket-backed relay connection
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadEvent() (*Event, error) {
	var ev Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *wsConn) WriteEvent(ev *Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSDialer dials the relay websocket endpoint
type WSDialer struct {
	Endpoint string
}

// Dial implements Dialer
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

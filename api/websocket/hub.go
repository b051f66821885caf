package websocket

import (
	"encoding/json"
	"sync"

	"github.com/antelayer/streamgate/pkg/fanout"
	"github.com/antelayer/streamgate/pkg/stream"
	"go.uber.org/zap"
)

// DisconnectNotifier is told when a client connection goes away so
// server-side subscription state can be discarded upstream
type DisconnectNotifier interface {
	NotifyClientDisconnected(id, reason string)
}

// Hub maintains the set of locally-held client connections and delivers
// fan-out and status messages to them
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	notifier DisconnectNotifier
	logger   *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetDisconnectNotifier wires the upstream notification for closed
// connections; call before Run
func (h *Hub) SetDisconnectNotifier(n DisconnectNotifier) {
	h.notifier = n
}

// Run runs the hub until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client registered",
				zap.String("client_id", client.id),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				// the send channel stays open: backfill and fan-out
				// goroutines may still be pushing, and push checks the
				// connected flag, not channel state
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()

			if h.notifier != nil {
				h.notifier.NotifyClientDisconnected(client.id, "disconnected")
			}
			h.logger.Info("client unregistered",
				zap.String("client_id", client.id),
				zap.Int("total_clients", total))
		}
	}
}

// HandleFanout delivers one fan-out message to its target client, or to
// every local client for broadcasts. A target not held by this instance
// is a no-op; the owning instance saw the same message.
func (h *Hub) HandleFanout(msg *fanout.Message) {
	switch msg.Type {
	case stream.MessageTypeDeltaTrace, stream.MessageTypeActionTrace:
		h.deliverLive(msg)
	case stream.MessageTypeLibUpdate, stream.MessageTypeForkEvent:
		h.broadcastChainEvent(msg)
	default:
		h.logger.Debug("ignoring unknown fanout message", zap.String("type", msg.Type))
	}
}

// deliverLive wraps a live record in the client data envelope and sends
// it to the target connection if held locally
func (h *Hub) deliverLive(msg *fanout.Message) {
	h.mu.RLock()
	client, ok := h.clients[msg.Target]
	h.mu.RUnlock()

	if !ok || !client.Connected() {
		return
	}

	var record map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		h.logger.Error("failed to decode live record", zap.Error(err))
		return
	}

	env := &stream.Envelope{
		Type:     msg.Type,
		Mode:     stream.ModeLive,
		Messages: []map[string]interface{}{record},
	}
	if err := client.Send(env); err != nil {
		h.logger.Warn("live delivery failed",
			zap.String("client_id", msg.Target),
			zap.Error(err))
	}
}

// broadcastChainEvent passes a finality or fork notification to every
// local client
func (h *Hub) broadcastChainEvent(msg *fanout.Message) {
	data, err := json.Marshal(&ChainEvent{
		Type:    msg.Type,
		Chain:   msg.Chain,
		Payload: msg.Payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal chain event", zap.Error(err))
		return
	}
	h.broadcastRaw(data)
}

// BroadcastStatus tells every local client about a relay health
// transition
func (h *Hub) BroadcastStatus(status string) {
	data, err := json.Marshal(&StatusMessage{Status: status})
	if err != nil {
		h.logger.Error("failed to marshal status message", zap.Error(err))
		return
	}
	h.broadcastRaw(data)
	h.logger.Info("status broadcast", zap.String("status", status))
}

func (h *Hub) broadcastRaw(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if err := client.push(data); err != nil {
			h.logger.Debug("broadcast delivery failed",
				zap.String("client_id", client.id),
				zap.Error(err))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes all client connections and terminates Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, client := range h.clients {
			client.close()
			delete(h.clients, id)
		}
		h.mu.Unlock()

		h.logger.Info("hub stopped")
	})
}

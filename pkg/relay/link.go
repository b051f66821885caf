package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antelayer/streamgate/pkg/fanout"
	"github.com/antelayer/streamgate/pkg/stream"
	"go.uber.org/zap"
)

// State is the externally visible health of the relay link
type State int32

const (
	// StateConnected means live forwarding is possible
	StateConnected State = iota

	// StateDown means live data is unavailable
	StateDown
)

// String implements fmt.Stringer
func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "down"
}

// StatusNotifier broadcasts relay health transitions to every session
// held by this gateway instance
type StatusNotifier interface {
	BroadcastStatus(status string)
}

// Publisher hands live events to the fan-out layer for delivery to the
// owning gateway instance
type Publisher interface {
	Publish(ctx context.Context, msg *fanout.Message) error
}

// Link supervises the connection to the upstream relay process: it
// tracks Connected/Down state with idempotent transition broadcasts,
// forwards live events toward their target clients, and carries the
// registration request/acknowledge exchange.
//
// The link starts optimistically Connected; the supervisor drives
// transitions from the connection lifecycle.
type Link struct {
	chain    string
	notifier StatusNotifier
	bus      Publisher
	logger   *zap.Logger
	metrics  *Metrics

	state        atomic.Int32
	transitionAt atomic.Int64

	mu      sync.Mutex
	conn    Conn
	pending map[uint64]chan json.RawMessage
	nextReq atomic.Uint64
}

// NewLink creates a relay link for the given chain
func NewLink(chain string, notifier StatusNotifier, bus Publisher, logger *zap.Logger, metrics *Metrics) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Link{
		chain:    chain,
		notifier: notifier,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		pending:  make(map[uint64]chan json.RawMessage),
	}
	l.state.Store(int32(StateConnected))
	l.transitionAt.Store(time.Now().UnixNano())
	return l
}

// State returns the current link state
func (l *Link) State() State {
	return State(l.state.Load())
}

// LastTransition returns when the link last changed state
func (l *Link) LastTransition() time.Time {
	return time.Unix(0, l.transitionAt.Load())
}

// onConnect records an established relay connection and, if the prior
// state was Down, broadcasts relay_restored exactly once
func (l *Link) onConnect(conn Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if l.state.CompareAndSwap(int32(StateDown), int32(StateConnected)) {
		l.transitionAt.Store(time.Now().UnixNano())
		l.logger.Info("relay link restored")
		if l.metrics != nil {
			l.metrics.StateGauge.Set(1)
			l.metrics.TransitionsTotal.WithLabelValues(StatusRelayRestored).Inc()
		}
		l.notifier.BroadcastStatus(StatusRelayRestored)
	}
}

// onDisconnect records a lost relay connection and, if not already Down,
// broadcasts relay_down exactly once. Registrations still waiting on an
// acknowledgement resolve with the offline sentinel so no caller is left
// pending on a dead link.
func (l *Link) onDisconnect() {
	l.mu.Lock()
	l.conn = nil
	pending := l.pending
	l.pending = make(map[uint64]chan json.RawMessage)
	l.mu.Unlock()

	for _, ch := range pending {
		ch <- offlineAck()
	}

	if l.state.CompareAndSwap(int32(StateConnected), int32(StateDown)) {
		l.transitionAt.Store(time.Now().UnixNano())
		l.logger.Warn("relay link down")
		if l.metrics != nil {
			l.metrics.StateGauge.Set(0)
			l.metrics.TransitionsTotal.WithLabelValues(StatusRelayDown).Inc()
		}
		l.notifier.BroadcastStatus(StatusRelayDown)
	}
}

// HandleEvent processes one event received from the relay
// Handlers run on arrival order and never block on a backfill
func (l *Link) HandleEvent(ctx context.Context, ev *Event) {
	switch ev.Type {
	case EventTypeAck:
		l.resolveAck(ev)

	case EventTypeDelta:
		l.forward(ctx, ev, stream.MessageTypeDeltaTrace)

	case EventTypeTrace:
		l.forward(ctx, ev, stream.MessageTypeActionTrace)

	case EventTypeLibUpdate, EventTypeForkEvent:
		l.forwardChainMeta(ctx, ev)

	default:
		l.logger.Debug("ignoring unknown relay event", zap.String("type", ev.Type))
	}
}

// forward hands a live data event to the fan-out layer addressed to its
// target client; delivery is a local no-op on instances that do not hold
// the connection
func (l *Link) forward(ctx context.Context, ev *Event, msgType string) {
	if ev.Client == "" {
		l.logger.Debug("dropping live event without target", zap.String("type", ev.Type))
		return
	}
	if l.metrics != nil {
		l.metrics.EventsForwardedTotal.WithLabelValues(ev.Type).Inc()
	}
	if err := l.bus.Publish(ctx, &fanout.Message{
		Target:  ev.Client,
		Type:    msgType,
		Chain:   l.chain,
		Payload: ev.Payload,
	}); err != nil {
		l.logger.Error("failed to publish live event", zap.Error(err))
	}
}

// forwardChainMeta broadcasts finality and fork notifications to every
// client of the matching chain; mismatched-chain events are dropped
func (l *Link) forwardChainMeta(ctx context.Context, ev *Event) {
	if ev.Chain != l.chain {
		return
	}
	msgType := stream.MessageTypeLibUpdate
	if ev.Type == EventTypeForkEvent {
		msgType = stream.MessageTypeForkEvent
	}
	if l.metrics != nil {
		l.metrics.EventsForwardedTotal.WithLabelValues(ev.Type).Inc()
	}
	if err := l.bus.Publish(ctx, &fanout.Message{
		Type:    msgType,
		Chain:   ev.Chain,
		Payload: ev.Payload,
	}); err != nil {
		l.logger.Error("failed to publish chain event", zap.Error(err))
	}
}

func (l *Link) resolveAck(ev *Event) {
	l.mu.Lock()
	ch, ok := l.pending[ev.ReqID]
	if ok {
		delete(l.pending, ev.ReqID)
	}
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("ack for unknown registration", zap.Uint64("req_id", ev.ReqID))
		return
	}
	ch <- ev.Payload
}

// Register forwards a client's subscription to the relay and waits for
// the acknowledgement. If the link is Down the acknowledgement resolves
// immediately with the STREAMING_OFFLINE sentinel instead of attempting
// delivery.
func (l *Link) Register(ctx context.Context, clientID string, kind stream.Kind, req interface{}) (json.RawMessage, error) {
	if l.State() == StateDown {
		return offlineAck(), nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription request: %w", err)
	}

	reqID := l.nextReq.Add(1)
	ackCh := make(chan json.RawMessage, 1)

	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return offlineAck(), nil
	}
	l.pending[reqID] = ackCh
	l.mu.Unlock()

	ev := &Event{
		Type:    EventTypeRegister,
		Client:  clientID,
		ReqID:   reqID,
		Kind:    string(kind),
		Payload: payload,
	}
	if err := conn.WriteEvent(ev); err != nil {
		l.mu.Lock()
		delete(l.pending, reqID)
		l.mu.Unlock()
		l.logger.Warn("registration write failed", zap.Error(err))
		return offlineAck(), nil
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		l.mu.Lock()
		delete(l.pending, reqID)
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

// NotifyClientDisconnected tells the relay to discard server-side
// subscription state for a connection id
func (l *Link) NotifyClientDisconnected(id, reason string) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.WriteEvent(&Event{
		Type:   EventTypeClientDisconnected,
		Client: id,
		Reason: reason,
	}); err != nil {
		l.logger.Debug("failed to notify client disconnect", zap.Error(err))
	}
}

// offlineAck renders the STREAMING_OFFLINE sentinel as an ack payload
func offlineAck() json.RawMessage {
	return json.RawMessage(`"` + stream.StreamingOffline + `"`)
}

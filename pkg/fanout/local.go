package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/antelayer/streamgate/internal/constants"
	"go.uber.org/zap"
)

// LocalBus is an in-process bus for single-instance deployments, and the
// local delivery stage of the distributed bus
type LocalBus struct {
	publishCh chan *Message
	done      chan struct{}

	handlers []Handler
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	stats struct {
		published atomic.Uint64
		delivered atomic.Uint64
		dropped   atomic.Uint64
	}

	logger *zap.Logger
}

// NewLocalBus creates a local bus
func NewLocalBus(logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		publishCh: make(chan *Message, constants.FanoutPublishBufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Subscribe registers a handler for messages reaching this instance
func (b *LocalBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish queues a message for local delivery
// Messages are dropped when the publish buffer is full
func (b *LocalBus) Publish(ctx context.Context, msg *Message) error {
	select {
	case <-b.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case b.publishCh <- msg:
		b.stats.published.Add(1)
		return nil
	default:
		b.stats.dropped.Add(1)
		b.logger.Warn("fanout buffer full, dropping message",
			zap.String("type", msg.Type),
			zap.String("target", msg.Target))
		return nil
	}
}

// Run starts the bus main loop
func (b *LocalBus) Run() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.publishCh:
			b.deliver(msg)
		}
	}
}

// deliver fans a message out to every registered handler
func (b *LocalBus) deliver(msg *Message) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	b.stats.delivered.Add(1)
}

// Stop gracefully stops the bus
func (b *LocalBus) Stop() {
	b.cancel()
	<-b.done
}

// Stats returns published, delivered, and dropped message counts
func (b *LocalBus) Stats() (published, delivered, dropped uint64) {
	return b.stats.published.Load(), b.stats.delivered.Load(), b.stats.dropped.Load()
}

package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antelayer/streamgate/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus distributes messages across gateway instances over Redis
// Pub/Sub. Local delivery goes through an embedded LocalBus; remote
// copies are published on a shared channel and echo-suppressed by node id.
type RedisBus struct {
	localBus *LocalBus
	client   redis.UniversalClient
	cfg      config.RedisConfig
	nodeID   string
	channel  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected atomic.Bool

	stats struct {
		publishedRemote atomic.Uint64
		receivedRemote  atomic.Uint64
		publishErrors   atomic.Uint64
	}

	logger *zap.Logger
}

// envelope wraps a message with the publishing node id to prevent echo
type envelope struct {
	NodeID string          `json:"node_id"`
	Data   json.RawMessage `json:"data"`
}

// NewRedisBus creates a Redis-backed distributed bus
func NewRedisBus(cfg config.RedisConfig, nodeID string, logger *zap.Logger) (*RedisBus, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("no redis addresses configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &RedisBus{
		localBus: NewLocalBus(logger),
		cfg:      cfg,
		nodeID:   nodeID,
		channel:  cfg.ChannelPrefix + ":events",
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(zap.String("node_id", nodeID)),
	}

	if cfg.ClusterMode {
		b.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		b.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	return b, nil
}

// Connect verifies the Redis connection and starts the subscriber
func (b *RedisBus) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	b.connected.Store(true)

	b.wg.Add(1)
	go b.subscribeLoop()

	b.logger.Info("connected to redis",
		zap.Strings("addresses", b.cfg.Addresses),
		zap.String("channel", b.channel))

	return nil
}

// IsConnected reports whether the bus is connected to Redis
func (b *RedisBus) IsConnected() bool {
	return b.connected.Load()
}

// NodeID returns this instance's identifier on the bus
func (b *RedisBus) NodeID() string {
	return b.nodeID
}

// Subscribe registers a handler for messages reaching this instance
func (b *RedisBus) Subscribe(h Handler) {
	b.localBus.Subscribe(h)
}

// Publish delivers a message locally and to every other instance
func (b *RedisBus) Publish(ctx context.Context, msg *Message) error {
	if err := b.localBus.Publish(ctx, msg); err != nil {
		return err
	}

	if b.connected.Load() {
		go b.publishRemote(msg)
	}

	return nil
}

func (b *RedisBus) publishRemote(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to marshal fanout message", zap.Error(err))
		return
	}

	env, err := json.Marshal(envelope{NodeID: b.nodeID, Data: data})
	if err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to marshal fanout envelope", zap.Error(err))
		return
	}

	timeout := b.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, env).Err(); err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to publish to redis", zap.Error(err))
		return
	}

	b.stats.publishedRemote.Add(1)
}

// subscribeLoop receives remote messages and feeds them into local delivery
func (b *RedisBus) subscribeLoop() {
	defer b.wg.Done()

	pubsub := b.client.Subscribe(b.ctx, b.channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Error("error receiving fanout message", zap.Error(err))
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Error("failed to unmarshal fanout envelope", zap.Error(err))
			continue
		}

		// skip this node's own messages
		if env.NodeID == b.nodeID {
			continue
		}

		var m Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			b.logger.Error("failed to unmarshal fanout message", zap.Error(err))
			continue
		}

		b.stats.receivedRemote.Add(1)
		_ = b.localBus.Publish(b.ctx, &m)
	}
}

// Run starts the bus main loop
func (b *RedisBus) Run() {
	go b.localBus.Run()
	<-b.ctx.Done()
	b.wg.Wait()
	b.localBus.Stop()
}

// Stop gracefully stops the bus and closes the Redis connection
func (b *RedisBus) Stop() {
	b.cancel()
	b.connected.Store(false)
	if err := b.client.Close(); err != nil {
		b.logger.Error("error closing redis client", zap.Error(err))
	}
	b.wg.Wait()
}

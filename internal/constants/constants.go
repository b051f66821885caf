package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 7700

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultStreamPath is the default client websocket endpoint path
	DefaultStreamPath = "/stream"
)

// Backfill Constants
const (
	// BackfillPageSize is the number of records fetched per cursor page
	BackfillPageSize = 20

	// CursorKeepAlive is how long the backend keeps an idle cursor alive
	CursorKeepAlive = 30 * time.Second

	// MaxBackfillTotal is the largest first-page total a historical scan
	// will paginate; anything above it is rejected with an empty batch
	MaxBackfillTotal = 1000
)

// Relay Constants
const (
	// DefaultRelayReconnectMin is the initial relay redial backoff
	DefaultRelayReconnectMin = 500 * time.Millisecond

	// DefaultRelayReconnectMax is the relay redial backoff ceiling
	DefaultRelayReconnectMax = 30 * time.Second

	// RelayWriteTimeout bounds a single write on the relay connection
	RelayWriteTimeout = 10 * time.Second
)

// Client Connection Constants
const (
	// ClientSendBufferSize is the per-connection outbound message buffer
	ClientSendBufferSize = 256

	// ClientMaxMessageSize is the largest inbound client message accepted
	ClientMaxMessageSize = 64 * 1024

	// ClientPongTimeout is how long to wait for a pong before dropping
	ClientPongTimeout = 60 * time.Second

	// ClientPingInterval is how often pings are written to clients
	ClientPingInterval = 54 * time.Second

	// DefaultClientRequestsPerSecond rate-limits inbound stream requests
	DefaultClientRequestsPerSecond = 10

	// DefaultClientRequestBurst is the inbound request limiter burst
	DefaultClientRequestBurst = 20
)

// Fanout Constants
const (
	// DefaultFanoutChannelPrefix prefixes the pub/sub channels used to
	// move relay events between gateway instances
	DefaultFanoutChannelPrefix = "streamgate"

	// FanoutPublishBufferSize is the local bus publish channel buffer
	FanoutPublishBufferSize = 1024
)

// Search Constants
const (
	// DefaultDeltaIndex is the backend index holding state-delta records
	DefaultDeltaIndex = "deltas"

	// DefaultActionIndex is the backend index holding action records
	DefaultActionIndex = "actions"

	// DefaultSearchTimeout bounds a single backend page fetch
	DefaultSearchTimeout = 30 * time.Second
)

// Chain RPC Constants
const (
	// DefaultChainRPCTimeout bounds the head-block lookup call
	DefaultChainRPCTimeout = 5 * time.Second
)

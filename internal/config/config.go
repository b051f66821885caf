package config

import (
	"fmt"
	"os"
	"time"

	"github.com/antelayer/streamgate/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway
type Config struct {
	Chain  ChainConfig  `yaml:"chain"`
	Search SearchConfig `yaml:"search"`
	Relay  RelayConfig  `yaml:"relay"`
	Fanout FanoutConfig `yaml:"fanout"`
	API    APIConfig    `yaml:"api"`
	Log    LogConfig    `yaml:"log"`
	Limits LimitsConfig `yaml:"limits"`
}

// ChainConfig identifies the chain this gateway serves and the RPC
// endpoint used to resolve the current head block
type ChainConfig struct {
	// ID is the chain identifier announced in the client handshake and
	// used to gate chain-metadata events from the relay
	ID string `yaml:"id"`
	// RPCEndpoint is the chain API endpoint (head-block lookups only)
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// RPCTimeout bounds a single head lookup
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
}

// SearchConfig holds search backend configuration
type SearchConfig struct {
	// Endpoint is the search backend base URL
	Endpoint string `yaml:"endpoint"`
	// DeltaIndex is the index holding state-delta records
	DeltaIndex string `yaml:"delta_index"`
	// ActionIndex is the index holding action records
	ActionIndex string `yaml:"action_index"`
	// Timeout bounds a single page fetch
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig holds the upstream relay connection configuration
type RelayConfig struct {
	// Endpoint is the relay websocket URL
	Endpoint string `yaml:"endpoint"`
	// ReconnectMin is the initial redial backoff
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	// ReconnectMax is the redial backoff ceiling
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// FanoutConfig selects how relay events reach other gateway instances
type FanoutConfig struct {
	// Mode is "local" (single instance) or "redis" (shared client pool)
	Mode string `yaml:"mode"`
	// Redis configures the pub/sub transport when mode is "redis"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis pub/sub configuration
type RedisConfig struct {
	Addresses     []string      `yaml:"addresses"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	ClusterMode   bool          `yaml:"cluster_mode"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// APIConfig holds the client-facing server configuration
type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	StreamPath string `yaml:"stream_path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig holds per-client limits
type LimitsConfig struct {
	// RequestsPerSecond rate-limits inbound stream requests per client
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// RequestBurst is the limiter burst size
	RequestBurst int `yaml:"request_burst"`
}

// Load reads configuration from a YAML file
// If path is empty, defaults are returned
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration populated with defaults
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCTimeout: constants.DefaultChainRPCTimeout,
		},
		Search: SearchConfig{
			DeltaIndex:  constants.DefaultDeltaIndex,
			ActionIndex: constants.DefaultActionIndex,
			Timeout:     constants.DefaultSearchTimeout,
		},
		Relay: RelayConfig{
			ReconnectMin: constants.DefaultRelayReconnectMin,
			ReconnectMax: constants.DefaultRelayReconnectMax,
		},
		Fanout: FanoutConfig{
			Mode: "local",
			Redis: RedisConfig{
				ChannelPrefix: constants.DefaultFanoutChannelPrefix,
			},
		},
		API: APIConfig{
			Host:       constants.DefaultAPIHost,
			Port:       constants.DefaultAPIPort,
			StreamPath: constants.DefaultStreamPath,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Limits: LimitsConfig{
			RequestsPerSecond: constants.DefaultClientRequestsPerSecond,
			RequestBurst:      constants.DefaultClientRequestBurst,
		},
	}
}

// applyEnv overrides secrets from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("STREAMGATE_REDIS_PASSWORD"); v != "" {
		c.Fanout.Redis.Password = v
	}
}

// applyDefaults fills zero values left by a partial config file
func (c *Config) applyDefaults() {
	if c.Chain.RPCTimeout <= 0 {
		c.Chain.RPCTimeout = constants.DefaultChainRPCTimeout
	}
	if c.Search.DeltaIndex == "" {
		c.Search.DeltaIndex = constants.DefaultDeltaIndex
	}
	if c.Search.ActionIndex == "" {
		c.Search.ActionIndex = constants.DefaultActionIndex
	}
	if c.Search.Timeout <= 0 {
		c.Search.Timeout = constants.DefaultSearchTimeout
	}
	if c.Relay.ReconnectMin <= 0 {
		c.Relay.ReconnectMin = constants.DefaultRelayReconnectMin
	}
	if c.Relay.ReconnectMax <= 0 {
		c.Relay.ReconnectMax = constants.DefaultRelayReconnectMax
	}
	if c.Fanout.Mode == "" {
		c.Fanout.Mode = "local"
	}
	if c.Fanout.Redis.ChannelPrefix == "" {
		c.Fanout.Redis.ChannelPrefix = constants.DefaultFanoutChannelPrefix
	}
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.StreamPath == "" {
		c.API.StreamPath = constants.DefaultStreamPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Limits.RequestsPerSecond <= 0 {
		c.Limits.RequestsPerSecond = constants.DefaultClientRequestsPerSecond
	}
	if c.Limits.RequestBurst <= 0 {
		c.Limits.RequestBurst = constants.DefaultClientRequestBurst
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Chain.ID == "" {
		return fmt.Errorf("chain.id is required")
	}
	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if c.Search.Endpoint == "" {
		return fmt.Errorf("search.endpoint is required")
	}
	if c.Relay.Endpoint == "" {
		return fmt.Errorf("relay.endpoint is required")
	}
	if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
		return fmt.Errorf("api.port must be between %d and %d, got %d",
			constants.MinPort, constants.MaxPort, c.API.Port)
	}
	switch c.Fanout.Mode {
	case "local":
	case "redis":
		if len(c.Fanout.Redis.Addresses) == 0 {
			return fmt.Errorf("fanout.redis.addresses is required in redis mode")
		}
	default:
		return fmt.Errorf("fanout.mode must be \"local\" or \"redis\", got %q", c.Fanout.Mode)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be \"json\" or \"console\", got %q", c.Log.Format)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antelayer/streamgate/internal/constants"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultDeltaIndex, cfg.Search.DeltaIndex)
	assert.Equal(t, constants.DefaultActionIndex, cfg.Search.ActionIndex)
	assert.Equal(t, constants.DefaultAPIPort, cfg.API.Port)
	assert.Equal(t, constants.DefaultStreamPath, cfg.API.StreamPath)
	assert.Equal(t, "local", cfg.Fanout.Mode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromFile(t *testing.T) {
	raw := `
chain:
  id: wax-mainnet
  rpc_endpoint: http://localhost:8888
  rpc_timeout: 3s
search:
  endpoint: http://localhost:9200
  delta_index: wax-deltas
relay:
  endpoint: ws://localhost:1234/relay
fanout:
  mode: redis
  redis:
    addresses: ["localhost:6379"]
api:
  port: 7000
log:
  level: debug
  format: console
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wax-mainnet", cfg.Chain.ID)
	assert.Equal(t, 3*time.Second, cfg.Chain.RPCTimeout)
	assert.Equal(t, "wax-deltas", cfg.Search.DeltaIndex)
	// unset fields fall back to defaults
	assert.Equal(t, constants.DefaultActionIndex, cfg.Search.ActionIndex)
	assert.Equal(t, constants.DefaultRelayReconnectMin, cfg.Relay.ReconnectMin)
	assert.Equal(t, "redis", cfg.Fanout.Mode)
	assert.Equal(t, 7000, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_RedisPasswordFromEnv(t *testing.T) {
	t.Setenv("STREAMGATE_REDIS_PASSWORD", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Fanout.Redis.Password)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Chain.ID = "test-chain"
		cfg.Chain.RPCEndpoint = "http://localhost:8888"
		cfg.Search.Endpoint = "http://localhost:9200"
		cfg.Relay.Endpoint = "ws://localhost:1234"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing chain id",
			mutate:  func(c *Config) { c.Chain.ID = "" },
			wantErr: "chain.id",
		},
		{
			name:    "missing rpc endpoint",
			mutate:  func(c *Config) { c.Chain.RPCEndpoint = "" },
			wantErr: "chain.rpc_endpoint",
		},
		{
			name:    "missing search endpoint",
			mutate:  func(c *Config) { c.Search.Endpoint = "" },
			wantErr: "search.endpoint",
		},
		{
			name:    "missing relay endpoint",
			mutate:  func(c *Config) { c.Relay.Endpoint = "" },
			wantErr: "relay.endpoint",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "bad fanout mode",
			mutate:  func(c *Config) { c.Fanout.Mode = "kafka" },
			wantErr: "fanout.mode",
		},
		{
			name:    "redis mode without addresses",
			mutate:  func(c *Config) { c.Fanout.Mode = "redis" },
			wantErr: "fanout.redis.addresses",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

package chainapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client wraps the chain API endpoint used to resolve the current head block
type Client struct {
	endpoint string
	hc       *http.Client
	logger   *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewClient creates a new chain API client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		endpoint: cfg.Endpoint,
		hc:       &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// chainInfo is the subset of the get_info response the gateway reads
type chainInfo struct {
	ChainID      string `json:"chain_id"`
	HeadBlockNum uint64 `json:"head_block_num"`
}

// HeadBlock returns the current head block number of the chain
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	info, err := c.getInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get head block: %w", err)
	}
	return info.HeadBlockNum, nil
}

// ChainID returns the chain identifier reported by the endpoint
func (c *Client) ChainID(ctx context.Context) (string, error) {
	info, err := c.getInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	return info.ChainID, nil
}

func (c *Client) getInfo(ctx context.Context) (*chainInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/chain/get_info", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get_info returned %d: %s", resp.StatusCode, body)
	}

	var info chainInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode get_info response: %w", err)
	}

	return &info, nil
}

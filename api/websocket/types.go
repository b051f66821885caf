package websocket

import (
	"encoding/json"
)

// Inbound request types
const (
	RequestTypeDeltaStream  = "delta_stream_request"
	RequestTypeActionStream = "action_stream_request"
)

// Request is an inbound client message
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handshake is sent once when a client connects
type Handshake struct {
	Type  string `json:"type"`
	Chain string `json:"chain"`
}

// StatusMessage announces a relay health transition
type StatusMessage struct {
	Status string `json:"status"`
}

// AckMessage carries the acknowledgement for a stream request: either
// the relay's payload or the STREAMING_OFFLINE sentinel
type AckMessage struct {
	Type    string          `json:"type"`
	Request string          `json:"request"`
	Result  json.RawMessage `json:"result"`
}

// ChainEvent is a finality or fork notification passed through to clients
type ChainEvent struct {
	Type    string          `json:"type"`
	Chain   string          `json:"chain"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorMessage reports a rejected client message
type ErrorMessage struct {
	Error string `json:"error"`
}

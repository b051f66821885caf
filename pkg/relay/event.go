package relay

import "encoding/json"

// Relay event types, both directions
const (
	// relay -> gateway
	EventTypeDelta     = "delta"
	EventTypeTrace     = "trace"
	EventTypeLibUpdate = "lib_update"
	EventTypeForkEvent = "fork_event"
	EventTypeAck       = "ack"

	// gateway -> relay
	EventTypeRegister           = "register"
	EventTypeClientDisconnected = "client_disconnected"
)

// Status values broadcast to clients on relay health transitions
const (
	StatusRelayDown     = "relay_down"
	StatusRelayRestored = "relay_restored"
)

// Event is one message on the relay connection
type Event struct {
	Type string `json:"type"`

	// Client is the target client connection id on live data events,
	// and the subscribing connection id on registrations
	Client string `json:"client,omitempty"`

	// Chain gates lib_update and fork_event delivery
	Chain string `json:"chain,omitempty"`

	// ReqID correlates a registration with its acknowledgement
	ReqID uint64 `json:"req_id,omitempty"`

	// Kind is the stream kind of a registration
	Kind string `json:"kind,omitempty"`

	// Reason accompanies client_disconnected notifications
	Reason string `json:"reason,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

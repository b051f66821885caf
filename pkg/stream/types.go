package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/antelayer/streamgate/pkg/search"
)

// Kind identifies one of the two record streams a client can subscribe to
type Kind string

const (
	// KindDelta streams captured changes to contract table state
	KindDelta Kind = "delta"

	// KindAction streams captured contract action executions
	KindAction Kind = "action"
)

// Client-facing message types
const (
	MessageTypeDeltaTrace  = "delta_trace"
	MessageTypeActionTrace = "action_trace"
	MessageTypeHandshake   = "handshake"
	MessageTypeLibUpdate   = "lib_update"
	MessageTypeForkEvent   = "fork_event"
)

// Delivery modes
const (
	ModeHistory = "history"
	ModeLive    = "live"
)

// StreamingOffline is the acknowledgement sentinel returned when a
// registration cannot be delivered because the relay link is down
const StreamingOffline = "STREAMING_OFFLINE"

// Indexed record fields
const (
	FieldBlockNum       = "block_num"
	FieldGlobalSequence = "global_sequence"
	FieldTimestamp      = "@timestamp"
	FieldCode           = "code"
	FieldTable          = "table"
	FieldScope          = "scope"
	FieldPayer          = "payer"
	FieldActAccount     = "act.account"
	FieldActName        = "act.name"
	FieldNotified       = "notified"
	FieldAuthActor      = "act.authorization.actor"
)

// indexedFieldPrefix marks a client filter field as a top-level indexed
// attribute; nestedDataPrefix marks nested action-data paths, which can
// never be pushed into the backend query
const (
	indexedFieldPrefix = "@"
	nestedDataPrefix   = "@act.data"
	wildcardMarker     = "*"
)

// MessageType returns the client-facing data message type for this kind
func (k Kind) MessageType() string {
	if k == KindDelta {
		return MessageTypeDeltaTrace
	}
	return MessageTypeActionTrace
}

// SortField returns the ascending sort key for this kind's backfill
func (k Kind) SortField() string {
	if k == KindDelta {
		return FieldBlockNum
	}
	return FieldGlobalSequence
}

// Bound is one edge of a requested historical window
// A non-empty Timestamp selects timestamp semantics; otherwise Block is
// an absolute block number when non-negative, or an offset from the
// current chain head when negative
// A zero block or empty timestamp leaves that side unbounded
type Bound struct {
	Timestamp string
	Block     int64
	IsBlock   bool
}

// UnmarshalJSON accepts either an ISO timestamp string or an integer
func (b *Bound) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		b.Timestamp = s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bound must be a timestamp string or block number: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("bound must be an integer block number: %w", err)
	}
	b.Block = v
	b.IsBlock = true
	return nil
}

// MarshalJSON renders the bound in the form the client supplied
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.IsBlock {
		return json.Marshal(b.Block)
	}
	return json.Marshal(b.Timestamp)
}

// Unbounded reports whether this side of the window is unconstrained
func (b Bound) Unbounded() bool {
	if b.IsBlock {
		return b.Block == 0
	}
	return b.Timestamp == ""
}

// FieldFilter is a client-supplied match predicate on a record field
type FieldFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// DeltaRequest subscribes to state-delta records
type DeltaRequest struct {
	Code      string `json:"code"`
	Table     string `json:"table"`
	Scope     string `json:"scope"`
	Payer     string `json:"payer"`
	StartFrom Bound  `json:"start_from"`
	ReadUntil Bound  `json:"read_until"`
}

// ActionRequest subscribes to action records
type ActionRequest struct {
	Contract  string        `json:"contract"`
	Account   string        `json:"account"`
	Action    string        `json:"action"`
	Filters   []FieldFilter `json:"filters"`
	StartFrom Bound         `json:"start_from"`
	ReadUntil Bound         `json:"read_until"`
}

// HasHistory reports whether the request asked for a historical window
func (r *DeltaRequest) HasHistory() bool {
	return !r.StartFrom.Unbounded() || !r.ReadUntil.Unbounded()
}

// HasHistory reports whether the request asked for a historical window
func (r *ActionRequest) HasHistory() bool {
	return !r.StartFrom.Unbounded() || !r.ReadUntil.Unbounded()
}

// Envelope is the client-facing data message carrying a batch of records
type Envelope struct {
	Type     string          `json:"type"`
	Mode     string          `json:"mode"`
	Messages []search.Record `json:"messages"`
}

// Sink delivers stream messages to one client connection
// Implementations are owned by the connection-handling layer; the
// streaming engine only reads reachability and writes envelopes
type Sink interface {
	// ID returns the connection identifier
	ID() string

	// Connected reports whether the client is still reachable
	Connected() bool

	// Send delivers one message envelope to the client
	Send(env *Envelope) error
}

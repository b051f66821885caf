package fanout

import (
	"context"
	"encoding/json"
)

// Message is a relay-originated event addressed to connected clients
// A non-empty Target addresses one client connection; delivery is a
// local no-op on instances that do not hold that connection. An empty
// Target broadcasts to every client of the instance.
type Message struct {
	Target  string          `json:"target,omitempty"`
	Type    string          `json:"type"`
	Chain   string          `json:"chain,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes messages delivered to this gateway instance
type Handler func(msg *Message)

// Bus distributes relay-originated events across gateway instances so
// any instance can address any connected client
type Bus interface {
	// Publish hands a message to every instance, this one included
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for messages reaching this instance
	Subscribe(h Handler)

	// Run starts the bus main loop; call in a goroutine
	Run()

	// Stop gracefully stops the bus
	Stop()
}

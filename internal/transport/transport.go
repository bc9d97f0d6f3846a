// Package transport defines the collaborator interface the router fans
// messages out over (§6), independent of any concrete link technology.
package transport

import "context"

// Address identifies a remote endpoint on a Transport, opaque to the router.
type Address string

// EventKind distinguishes the variants carried by an Event.
type EventKind int

const (
	EventReceived EventKind = iota
	EventConnected
	EventDisconnected
)

// Event is emitted by a Transport for inbound data or connectivity changes.
type Event struct {
	Kind EventKind
	Addr Address
	Data []byte // only set for EventReceived
}

// Transport sends and receives opaque byte frames to/from peers. A
// transport is responsible for its own framing, retries, and connection
// management; the router treats every Transport identically.
type Transport interface {
	// Name identifies this transport instance for logging and for the
	// router's "all transports except ingress" fan-out exclusion.
	Name() string

	// Send delivers data to a single peer address.
	Send(ctx context.Context, addr Address, data []byte) error

	// Broadcast delivers data to every currently reachable peer.
	Broadcast(ctx context.Context, data []byte) error

	// Events returns the channel of inbound data and connectivity events.
	// Close does not close this channel.
	Events() <-chan Event

	// Close releases the transport's resources.
	Close() error
}

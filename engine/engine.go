// Package engine implements the Engine.IO server core: the per-session
// transport state machine, the session and connection registries, the
// heartbeat protocol and the polling-to-websocket upgrade.
package engine

import (
	"fmt"
	"net/http"

	"github.com/sionet/sionet/engine/frame"
)

const ProtocolVersion = 4

// Transport identifies one of the two physical carriers. The values double
// as indexes into a session's transport slots.
type Transport byte

const (
	TransportPolling Transport = iota
	TransportWebSocket

	transportCount = 2
)

func (t Transport) String() string {
	switch t {
	case TransportPolling:
		return "polling"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

func ParseTransport(name string) (Transport, error) {
	switch name {
	case "polling":
		return TransportPolling, nil
	case "websocket":
		return TransportWebSocket, nil
	default:
		return 0, fmt.Errorf("engine: unknown transport: %q", name)
	}
}

// Conn is one physical connection bound to a transport slot. Writes are
// fire-and-forget: failures surface through the close callback, never as a
// blocking return.
type Conn interface {
	// Transport name in lowercase.
	Name() string

	// Process-unique identity; keys the connection registry.
	ID() uint64

	// Handshake sends the OPEN packet on the incoming request.
	// The packet callback must not fire from inside this method.
	Handshake(open *frame.Packet, w http.ResponseWriter, r *http.Request) error

	// PostHandshake runs the connection loop, if the transport has one.
	// Called once, from the handshake request's handler; blocks for the
	// lifetime of the connection on transports that read from it.
	PostHandshake()

	// ServeHTTP handles follow-up HTTP requests for this connection
	// (polling only).
	ServeHTTP(w http.ResponseWriter, r *http.Request)

	// Write delivers packets to the wire.
	Write(packets ...*frame.Packet)

	// QueuedPackets drains whatever Write staged but the wire has not
	// picked up yet (polling only).
	QueuedPackets() []*frame.Packet

	// Discard closes without firing the close callback. Used to retire
	// the polling connection after an upgrade.
	Discard()

	// Close closes and fires the close callback.
	Close()
}

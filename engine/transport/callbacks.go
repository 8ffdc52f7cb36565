// Package transport holds the pieces shared by the transport
// implementations: the callback holders a connection reports into and the
// connection id allocator.
package transport

import (
	"sync/atomic"

	"github.com/sionet/sionet/engine/frame"
)

type (
	PacketCallback func(packets ...*frame.Packet)
	CloseCallback  func(connID uint64, err error)
)

// Callbacks decouples a connection from its consumer: the session layer
// installs its handlers after the connection is constructed. The holders are
// atomic so a connection can fire while the consumer swaps handlers.
type Callbacks struct {
	onPacket atomic.Value
	onClose  atomic.Value
}

func NewCallbacks() *Callbacks {
	c := new(Callbacks)
	c.Set(nil, nil)
	return c
}

func (c *Callbacks) OnPacket(packets ...*frame.Packet) {
	f := c.onPacket.Load().(PacketCallback)
	f(packets...)
}

func (c *Callbacks) OnClose(connID uint64, err error) {
	f := c.onClose.Load().(CloseCallback)
	f(connID, err)
}

func (c *Callbacks) Set(onPacket PacketCallback, onClose CloseCallback) {
	if onPacket == nil {
		onPacket = func(packets ...*frame.Packet) {}
	}
	if onClose == nil {
		onClose = func(connID uint64, err error) {}
	}
	c.onPacket.Store(onPacket)
	c.onClose.Store(onClose)
}

var connID atomic.Uint64

// NextConnID allocates a process-unique connection identity. Connection ids
// key the connection registry; they are never reused.
func NextConnID() uint64 {
	return connID.Add(1)
}

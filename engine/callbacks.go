package engine

import "github.com/sionet/sionet/engine/frame"

type (
	// NewSessionCallback is invoked for every session that completes the
	// handshake. The returned callbacks receive the session's events; nil
	// entries are replaced with no-ops.
	NewSessionCallback func(session *Session) *Callbacks

	PacketCallback func(packets ...*frame.Packet)
	ErrorCallback  func(err error)

	// err can be nil. Always do a nil check.
	CloseCallback func(reason Reason, err error)
)

type Callbacks struct {
	OnPacket PacketCallback
	OnError  ErrorCallback
	OnClose  CloseCallback
}

func (c *Callbacks) setMissing() {
	if c.OnPacket == nil {
		c.OnPacket = func(packets ...*frame.Packet) {}
	}
	if c.OnError == nil {
		c.OnError = func(err error) {}
	}
	if c.OnClose == nil {
		c.OnClose = func(reason Reason, err error) {}
	}
}

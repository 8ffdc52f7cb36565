package sionet

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sionet/sionet/codec"
)

// BroadcastOperator accumulates room filters for one emission. The event is
// encoded once and the same buffers go to every matched socket.
type BroadcastOperator struct {
	namespace *Namespace
	rooms     mapset.Set[Room]
	except    mapset.Set[SocketID]
}

// To adds rooms to the target set. An empty target set means the whole
// namespace.
func (b *BroadcastOperator) To(rooms ...Room) *BroadcastOperator {
	for _, room := range rooms {
		b.rooms.Add(room)
	}
	return b
}

// In is an alias of To.
func (b *BroadcastOperator) In(rooms ...Room) *BroadcastOperator {
	return b.To(rooms...)
}

// Except excludes the sockets of the given rooms.
func (b *BroadcastOperator) Except(rooms ...Room) *BroadcastOperator {
	sids := b.namespace.Adapter().Sockets(mapset.NewSet(rooms...))
	sids.Each(func(sid SocketID) bool {
		b.except.Add(sid)
		return false
	})
	return b
}

// ExceptSockets excludes individual sockets.
func (b *BroadcastOperator) ExceptSockets(sids ...SocketID) *BroadcastOperator {
	for _, sid := range sids {
		b.except.Add(sid)
	}
	return b
}

// Emit encodes the event once and delivers it to every matched socket.
func (b *BroadcastOperator) Emit(eventName string, args ...any) error {
	p := &codec.Packet{
		Type:      codec.TypeEvent,
		Namespace: b.namespace.Name(),
		Name:      eventName,
	}
	buffers, err := b.namespace.server.encoder.Encode(p, args...)
	if err != nil {
		return err
	}

	sids := b.namespace.Adapter().Sockets(b.rooms)
	sids.Each(func(sid SocketID) bool {
		if b.except.Contains(sid) {
			return false
		}
		socket, ok := b.namespace.sockets.Get(sid)
		if !ok {
			return false
		}
		socket.conn.sendBuffers(buffers)
		return false
	})
	return nil
}

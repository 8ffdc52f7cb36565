package sionet

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/sionet/sionet/codec"
	"github.com/sionet/sionet/internal/sync"
)

// Socket is one client's presence in one namespace. A single underlying
// session can hold a socket per namespace; they share the wire but nothing
// else.
type Socket struct {
	id   SocketID
	nsp  *Namespace
	conn *serverConn

	connectedMu sync.RWMutex
	connected   bool

	closeOnce sync.Once
}

func newSocket(nsp *Namespace, conn *serverConn) *Socket {
	return &Socket{
		id:   SocketID(uuid.NewString()),
		nsp:  nsp,
		conn: conn,
	}
}

func (s *Socket) ID() SocketID { return s.id }

func (s *Socket) Namespace() *Namespace { return s.nsp }

// SessionID is the Engine.IO session id shared by all of the connection's
// sockets. Distinct from the socket's own public ID.
func (s *Socket) SessionID() string { return s.conn.sessionID() }

func (s *Socket) IsConnected() bool {
	s.connectedMu.RLock()
	defer s.connectedMu.RUnlock()
	return s.connected
}

func (s *Socket) setConnected(connected bool) {
	s.connectedMu.Lock()
	s.connected = connected
	s.connectedMu.Unlock()
}

// Emit sends an event to this socket.
// If you want to emit binary data, use sionet.Binary instead of []byte.
func (s *Socket) Emit(eventName string, args ...any) error {
	return s.emit(eventName, nil, args)
}

// EmitWithAck sends an event carrying an ack id; handler fires when the
// client acknowledges, or with ErrAckTimeout if AckTimeout is configured
// and exceeded.
func (s *Socket) EmitWithAck(eventName string, handler AckHandler, args ...any) error {
	if handler == nil {
		return s.emit(eventName, nil, args)
	}
	return s.emit(eventName, handler, args)
}

func (s *Socket) emit(eventName string, handler AckHandler, args []any) error {
	if !s.IsConnected() {
		return ErrSocketNotConnected
	}

	p := &codec.Packet{
		Type:      codec.TypeEvent,
		Namespace: s.nsp.Name(),
		Name:      eventName,
	}
	if handler != nil {
		ackID := s.conn.server.acks.Register(s.conn.sessionID(), handler)
		p.AckID = &ackID
	}
	return s.conn.sendPacket(p, args...)
}

// Join adds the socket to the given rooms.
func (s *Socket) Join(rooms ...Room) {
	s.nsp.Adapter().AddAll(s.id, rooms)
}

// Leave removes the socket from a room.
func (s *Socket) Leave(room Room) {
	s.nsp.Adapter().Delete(s.id, room)
}

// Rooms returns the rooms the socket is currently in.
func (s *Socket) Rooms() mapset.Set[Room] {
	rooms, ok := s.nsp.Adapter().SocketRooms(s.id)
	if !ok {
		return mapset.NewSet[Room]()
	}
	return rooms
}

// To targets a broadcast at the given rooms, excluding this socket.
func (s *Socket) To(rooms ...Room) *BroadcastOperator {
	return s.nsp.To(rooms...).ExceptSockets(s.id)
}

// Broadcast targets every other socket of the namespace.
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.To()
}

// Disconnect removes the socket from its namespace, sending a DISCONNECT
// packet. If close is true the underlying connection is terminated,
// disconnecting every namespace's socket of that client.
func (s *Socket) Disconnect(close bool) {
	if close {
		s.conn.disconnectAll()
		return
	}

	p := &codec.Packet{
		Type:      codec.TypeDisconnect,
		Namespace: s.nsp.Name(),
	}
	if err := s.conn.sendPacket(p); err != nil {
		s.conn.onError(err)
	}
	s.leave("server namespace disconnect")
}

// leave finalizes the socket's departure exactly once: registry removal,
// room cleanup, then the disconnect handlers.
func (s *Socket) leave(reason string) {
	s.closeOnce.Do(func() {
		s.setConnected(false)
		s.nsp.sockets.Remove(s.id)
		s.conn.removeSocket(s.nsp.Name())
		s.nsp.Adapter().DeleteAll(s.id)

		for _, handler := range s.nsp.disconnectHandlers() {
			handler(s, reason)
		}
	})
}

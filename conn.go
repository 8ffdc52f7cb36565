package sionet

import (
	"fmt"

	"github.com/sionet/sionet/codec"
	"github.com/sionet/sionet/engine"
	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/internal/sync"
)

// serverConn is the Socket.IO head of one Engine.IO session: it owns the
// session's decoder and the socket-per-namespace map, and routes decoded
// packets to their namespace.
type serverConn struct {
	server  *Server
	session *engine.Session
	decoder *codec.Decoder

	socketsMu sync.Mutex
	sockets   map[string]*Socket

	debug engine.Debugger
}

func newServerConn(server *Server, session *engine.Session) *serverConn {
	return &serverConn{
		server:  server,
		session: session,
		decoder: codec.NewDecoder(codec.DecoderConfig{
			Serializer:     server.serializer,
			Acks:           sessionAckPeeker{acks: server.acks, sid: session.ID()},
			MaxAttachments: server.maxAttachments,
		}),
		sockets: make(map[string]*Socket),
		debug:   server.debug.WithContext("[sionet] Conn with session ID: " + session.ID()),
	}
}

func (c *serverConn) sessionID() string { return c.session.ID() }

func (c *serverConn) socket(namespace string) (*Socket, bool) {
	c.socketsMu.Lock()
	defer c.socketsMu.Unlock()
	socket, ok := c.sockets[namespace]
	return socket, ok
}

func (c *serverConn) addSocket(namespace string, socket *Socket) {
	c.socketsMu.Lock()
	c.sockets[namespace] = socket
	c.socketsMu.Unlock()
}

func (c *serverConn) removeSocket(namespace string) {
	c.socketsMu.Lock()
	delete(c.sockets, namespace)
	c.socketsMu.Unlock()
}

func (c *serverConn) allSockets() (sockets []*Socket) {
	c.socketsMu.Lock()
	defer c.socketsMu.Unlock()
	for _, socket := range c.sockets {
		sockets = append(sockets, socket)
	}
	return
}

func (c *serverConn) onPacket(packets ...*frame.Packet) {
	for _, p := range packets {
		if p.Type != frame.TypeMessage {
			continue
		}
		c.onFrame(p)
	}
}

func (c *serverConn) onFrame(f *frame.Packet) {
	if f.IsBinary {
		p, complete := c.decoder.AddAttachment(f.Data)
		if complete {
			c.dispatch(p)
		}
		return
	}

	p, err := c.decoder.Decode(f.Data)
	if err != nil {
		c.onError(err)
		return
	}
	if p == nil || !p.Complete() {
		// An ack reply nobody waits for, or a binary packet whose
		// attachments are still in flight.
		return
	}
	c.dispatch(p)
}

func (c *serverConn) dispatch(p *codec.Packet) {
	c.debug.Log("Dispatching", p.Type)

	switch p.Type {
	case codec.TypeConnect:
		c.handleConnect(p)
	case codec.TypeEvent, codec.TypeBinaryEvent:
		c.handleEvent(p)
	case codec.TypeAck, codec.TypeBinaryAck:
		c.handleAck(p)
	case codec.TypeDisconnect:
		c.handleDisconnect(p)
	default:
		c.onError(fmt.Errorf("sionet: unexpected packet type: %s", p.Type))
	}
}

type connectReply struct {
	SID SocketID `json:"sid"`
}

type connectError struct {
	Message string `json:"message"`
}

func (c *serverConn) handleConnect(p *codec.Packet) {
	nsp, ok := c.server.namespaces.Get(p.Namespace)
	if !ok {
		c.sendConnectError(p.Namespace, "Invalid namespace")
		return
	}

	if _, exists := c.socket(p.Namespace); exists {
		// One socket per namespace per connection.
		return
	}

	socket := newSocket(nsp, c)
	handshake := &Handshake{packet: p, decoder: c.decoder}

	for _, middleware := range nsp.connectMiddlewares() {
		if err := middleware(socket, handshake); err != nil {
			c.sendConnectError(p.Namespace, err.Error())
			return
		}
	}

	socket.setConnected(true)
	nsp.sockets.Set(socket)
	c.addSocket(p.Namespace, socket)

	// Every socket starts in a room of its own id; private messaging and
	// whole-namespace broadcasts both lean on this.
	socket.Join(Room(socket.ID()))

	reply := &codec.Packet{
		Type:      codec.TypeConnect,
		Namespace: p.Namespace,
	}
	if err := c.sendPacket(reply, connectReply{SID: socket.ID()}); err != nil {
		c.onError(err)
		return
	}

	handlers := nsp.connectHandlers()
	go func() {
		for _, handler := range handlers {
			handler(socket)
		}
	}()
}

func (c *serverConn) sendConnectError(namespace, message string) {
	p := &codec.Packet{
		Type:      codec.TypeConnectError,
		Namespace: namespace,
	}
	if err := c.sendPacket(p, connectError{Message: message}); err != nil {
		c.onError(err)
	}
}

func (c *serverConn) handleEvent(p *codec.Packet) {
	socket, ok := c.socket(p.Namespace)
	if !ok {
		c.debug.Log("Event for a namespace without a socket", p.Namespace)
		return
	}

	var sender *ackSender
	if p.AckID != nil {
		sender = newAckSender(c, p.Namespace, c.server.ackMode)
	}
	event := &Event{packet: p, decoder: c.decoder, sender: sender}

	handlers := socket.nsp.eventHandlers(p.Name)
	go func() {
		for _, handler := range handlers {
			handler(socket, event)
		}
		if sender != nil {
			sender.Finish(*p.AckID)
		}
	}()
}

func (c *serverConn) handleAck(p *codec.Packet) {
	if p.AckID == nil {
		c.onError(codec.ErrMalformedPacket)
		return
	}
	event := &Event{packet: p, decoder: c.decoder}
	go c.server.acks.OnAck(c.sessionID(), *p.AckID, event)
}

func (c *serverConn) handleDisconnect(p *codec.Packet) {
	socket, ok := c.socket(p.Namespace)
	if !ok {
		return
	}
	socket.leave("client namespace disconnect")
}

func (c *serverConn) sendAck(namespace string, ackID uint64, args []any) error {
	p := &codec.Packet{
		Type:      codec.TypeAck,
		Namespace: namespace,
		AckID:     &ackID,
	}
	return c.sendPacket(p, args...)
}

func (c *serverConn) sendPacket(p *codec.Packet, args ...any) error {
	buffers, err := c.server.encoder.Encode(p, args...)
	if err != nil {
		return err
	}
	c.sendBuffers(buffers)
	return nil
}

// sendBuffers turns encoded buffers into Engine.IO frames: the head as a
// text MESSAGE, each attachment as a binary MESSAGE, sent back to back.
func (c *serverConn) sendBuffers(buffers [][]byte) {
	if len(buffers) == 0 {
		return
	}

	packets := make([]*frame.Packet, len(buffers))
	head, err := frame.New(frame.TypeMessage, false, buffers[0])
	if err != nil {
		c.onError(err)
		return
	}
	packets[0] = head

	for i, attachment := range buffers[1:] {
		p, err := frame.New(frame.TypeMessage, true, attachment)
		if err != nil {
			c.onError(err)
			return
		}
		packets[i+1] = p
	}

	c.session.Send(packets...)
}

// disconnectAll terminates the underlying session, which takes every
// namespace's socket down through onClose.
func (c *serverConn) disconnectAll() {
	c.session.Close()
}

func (c *serverConn) onError(err error) {
	if err != nil {
		c.server.onError(err)
	}
}

// onClose runs when the underlying session disconnected. Timer entries go
// first, then the sockets leave their namespaces, then the pending acks
// are released uninvoked.
func (c *serverConn) onClose(reason engine.Reason, err error) {
	c.debug.Log("Session closed", reason, err)

	sid := c.sessionID()
	c.server.scheduler.CancelSession(sid)

	for _, socket := range c.allSockets() {
		socket.leave(string(reason))
	}

	c.server.acks.ReleaseSession(sid)
	c.server.conns.Remove(sid)

	if err != nil {
		c.onError(err)
	}
}

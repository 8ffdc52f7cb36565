package sionet

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sionet/sionet/internal/sync"
)

type (
	// ConnectHandler runs after a socket joined the namespace and the
	// CONNECT reply went out.
	ConnectHandler func(socket *Socket)

	// DisconnectHandler runs once when a socket leaves the namespace.
	DisconnectHandler func(socket *Socket, reason string)

	// EventHandler receives one inbound event.
	EventHandler func(socket *Socket, event *Event)

	// Middleware authorizes a CONNECT before the socket joins. A non-nil
	// error rejects the handshake with a CONNECT_ERROR carrying the
	// error text.
	Middleware func(socket *Socket, handshake *Handshake) error
)

type Namespace struct {
	name    string
	server  *Server
	sockets *namespaceSocketStore
	adapter Adapter

	handlersMu   sync.RWMutex
	onConnect    []ConnectHandler
	onDisconnect []DisconnectHandler
	onEvent      map[string][]EventHandler
	middlewares  []Middleware
}

func newNamespace(name string, server *Server, adapterCreator AdapterCreator) *Namespace {
	n := &Namespace{
		name:    name,
		server:  server,
		sockets: newNamespaceSocketStore(),
		onEvent: make(map[string][]EventHandler),
	}
	n.adapter = adapterCreator(n)
	return n
}

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Adapter() Adapter { return n.adapter }

// Use registers a connect middleware. Middlewares run in registration
// order; the first error rejects the handshake.
func (n *Namespace) Use(m Middleware) {
	n.handlersMu.Lock()
	n.middlewares = append(n.middlewares, m)
	n.handlersMu.Unlock()
}

func (n *Namespace) OnConnect(h ConnectHandler) {
	n.handlersMu.Lock()
	n.onConnect = append(n.onConnect, h)
	n.handlersMu.Unlock()
}

func (n *Namespace) OnDisconnect(h DisconnectHandler) {
	n.handlersMu.Lock()
	n.onDisconnect = append(n.onDisconnect, h)
	n.handlersMu.Unlock()
}

func (n *Namespace) OnEvent(name string, h EventHandler) {
	n.handlersMu.Lock()
	n.onEvent[name] = append(n.onEvent[name], h)
	n.handlersMu.Unlock()
}

func (n *Namespace) connectHandlers() []ConnectHandler {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	return append([]ConnectHandler(nil), n.onConnect...)
}

func (n *Namespace) disconnectHandlers() []DisconnectHandler {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	return append([]DisconnectHandler(nil), n.onDisconnect...)
}

func (n *Namespace) eventHandlers(name string) []EventHandler {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	return append([]EventHandler(nil), n.onEvent[name]...)
}

func (n *Namespace) connectMiddlewares() []Middleware {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	return append([]Middleware(nil), n.middlewares...)
}

func (n *Namespace) Sockets() []*Socket {
	return n.sockets.GetAll()
}

// Emit broadcasts an event to every socket of the namespace.
func (n *Namespace) Emit(eventName string, args ...any) error {
	return n.To().Emit(eventName, args...)
}

// To restricts a subsequent broadcast to sockets that joined the given
// rooms. No rooms means the whole namespace.
func (n *Namespace) To(rooms ...Room) *BroadcastOperator {
	b := &BroadcastOperator{
		namespace: n,
		rooms:     mapset.NewSet[Room](),
		except:    mapset.NewSet[SocketID](),
	}
	return b.To(rooms...)
}

// namespaceSocketStore maps the namespace's socket ids to sockets.
type namespaceSocketStore struct {
	sockets map[SocketID]*Socket
	mu      sync.Mutex
}

func newNamespaceSocketStore() *namespaceSocketStore {
	return &namespaceSocketStore{
		sockets: make(map[SocketID]*Socket),
	}
}

func (s *namespaceSocketStore) Get(sid SocketID) (socket *Socket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	socket, ok = s.sockets[sid]
	return
}

func (s *namespaceSocketStore) GetAll() (sockets []*Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sockets = make([]*Socket, 0, len(s.sockets))
	for _, socket := range s.sockets {
		sockets = append(sockets, socket)
	}
	return
}

func (s *namespaceSocketStore) Set(socket *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[socket.ID()] = socket
}

func (s *namespaceSocketStore) Remove(sid SocketID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, sid)
}

// Package sionet implements a Socket.IO server on top of its own Engine.IO
// core: namespaces, rooms, event acknowledgments and binary payloads over
// HTTP long-polling and WebSocket.
package sionet

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sionet/sionet/codec"
	"github.com/sionet/sionet/codec/serializer"
	"github.com/sionet/sionet/engine"
	"github.com/sionet/sionet/internal/sync"
	"github.com/sionet/sionet/schedule"
)

var ErrSocketNotConnected = fmt.Errorf("sionet: socket is not connected")

type Server struct {
	engine     *engine.Server
	encoder    *codec.Encoder
	serializer serializer.Serializer

	maxAttachments int
	ackMode        AckMode

	namespaces     *namespaceStore
	adapterCreator AdapterCreator

	conns     *connStore
	acks      *ackManager
	scheduler *schedule.Scheduler

	onError func(err error)
	debug   engine.Debugger
}

func NewServer(config *Config) *Server {
	if config == nil {
		config = new(Config)
	}

	s := &Server{
		serializer:     config.Serializer,
		maxAttachments: config.MaxAttachments,
		ackMode:        config.AckMode,
		namespaces:     newNamespaceStore(),
		adapterCreator: config.AdapterCreator,
		conns:          newConnStore(),
		scheduler:      schedule.NewScheduler(),
		onError:        config.OnError,
		debug:          config.Debugger,
	}

	if s.serializer == nil {
		s.serializer = serializer.NewStd()
	}
	if s.adapterCreator == nil {
		s.adapterCreator = newInMemoryAdapter
	}
	if s.onError == nil {
		s.onError = func(err error) {}
	}
	if s.debug == nil {
		s.debug = engine.NewNoopDebugger()
	}

	s.encoder = codec.NewEncoder(codec.EncoderConfig{
		Serializer:     s.serializer,
		MaxAttachments: s.maxAttachments,
	})
	s.acks = newAckManager(s.scheduler, config.AckTimeout)

	s.engine = engine.NewServer(s.onSession, &engine.ServerConfig{
		Authenticator:          config.Authenticator,
		PingInterval:           config.PingInterval,
		PingTimeout:            config.PingTimeout,
		UpgradeTimeout:         config.UpgradeTimeout,
		FirstDataTimeout:       config.FirstDataTimeout,
		MaxBufferSize:          config.MaxBufferSize,
		DisableMaxBufferSize:   config.DisableMaxBufferSize,
		WebSocketAcceptOptions: config.WebSocketAcceptOptions,
		OnError:                s.onError,
		Debugger:               s.debug,
	})

	// The root namespace always exists.
	s.Of("/")

	return s
}

func (s *Server) onSession(session *engine.Session) *engine.Callbacks {
	conn := newServerConn(s, session)
	s.conns.Set(session.ID(), conn)

	return &engine.Callbacks{
		OnPacket: conn.onPacket,
		OnError:  conn.onError,
		OnClose:  conn.onClose,
	}
}

// Of returns the named namespace, creating it on first use. Names are
// normalized to a leading slash; Of("") and Of("/") are the same
// namespace.
func (s *Server) Of(name string) *Namespace {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return s.namespaces.GetOrCreate(name, s)
}

func (s *Server) Run() error {
	return s.engine.Run()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) PollTimeout() time.Duration {
	return s.engine.PollTimeout()
}

func (s *Server) HTTPWriteTimeout() time.Duration {
	return s.engine.HTTPWriteTimeout()
}

func (s *Server) IsClosed() bool {
	return s.engine.IsClosed()
}

// Close stops accepting new clients, disconnects every session and stops
// the timers.
func (s *Server) Close() error {
	err := s.engine.Close()
	s.scheduler.Close()
	return err
}

type namespaceStore struct {
	namespaces map[string]*Namespace
	mu         sync.Mutex
}

func newNamespaceStore() *namespaceStore {
	return &namespaceStore{
		namespaces: make(map[string]*Namespace),
	}
}

func (s *namespaceStore) GetOrCreate(name string, server *Server) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[name]
	if !ok {
		n = newNamespace(name, server, server.adapterCreator)
		s.namespaces[name] = n
	}
	return n
}

func (s *namespaceStore) Get(name string) (n *Namespace, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok = s.namespaces[name]
	return
}

type connStore struct {
	conns map[string]*serverConn
	mu    sync.Mutex
}

func newConnStore() *connStore {
	return &connStore{
		conns: make(map[string]*serverConn),
	}
}

func (s *connStore) Get(sid string) (conn *serverConn, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok = s.conns[sid]
	return
}

func (s *connStore) Set(sid string, conn *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sid] = conn
}

func (s *connStore) Remove(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sid)
}

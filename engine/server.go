package engine

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/engine/transport"
	"github.com/sionet/sionet/engine/transport/polling"
	_websocket "github.com/sionet/sionet/engine/transport/websocket"
	"github.com/sionet/sionet/internal/json"
	"github.com/sionet/sionet/internal/sync"
	"github.com/sionet/sionet/schedule"
)

const (
	defaultPingInterval   = 25 * time.Second
	defaultPingTimeout    = 20 * time.Second
	defaultUpgradeTimeout = 10 * time.Second
	defaultMaxBufferSize  = 1e6
)

// AuthFunc authenticates the handshake request before a session is created.
// Returning false rejects the client with 403.
type AuthFunc func(w http.ResponseWriter, r *http.Request) (ok bool)

// ServerError is the JSON body of a rejected HTTP request.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	ErrorUnknownTransport = iota
	ErrorUnknownSID
	ErrorBadHandshakeMethod
	ErrorBadRequest
	ErrorForbidden
	ErrorUnsupportedProtocolVersion
)

var serverErrors = map[int]ServerError{
	ErrorUnknownTransport: {
		Code:    0,
		Message: "Transport unknown",
	},
	ErrorUnknownSID: {
		Code:    1,
		Message: "Session ID unknown",
	},
	ErrorBadHandshakeMethod: {
		Code:    2,
		Message: "Bad handshake method",
	},
	ErrorBadRequest: {
		Code:    3,
		Message: "Bad request",
	},
	ErrorForbidden: {
		Code:    4,
		Message: "Forbidden",
	},
	ErrorUnsupportedProtocolVersion: {
		Code:    5,
		Message: "Unsupported protocol version",
	},
}

func GetServerError(code int) (se ServerError, ok bool) {
	se, ok = serverErrors[code]
	return
}

func writeError(w http.ResponseWriter, code int) {
	w.WriteHeader(http.StatusBadRequest)

	se, ok := serverErrors[code]
	if ok {
		data, _ := json.Marshal(&se)
		w.Write(data)
	}
}

type ServerConfig struct {
	// Middleware to authenticate clients before the handshake. Returning
	// false rejects the request; nil allows everyone.
	Authenticator AuthFunc

	// When to send PING packets to clients.
	PingInterval time.Duration

	// Inbound silence beyond PingInterval+PingTimeout disconnects the
	// session.
	PingTimeout time.Duration

	// How long an upgrade probe may stay incomplete.
	UpgradeTimeout time.Duration

	// A session that sends no MESSAGE within this window after the
	// handshake is disconnected. Zero disables the check.
	FirstDataTimeout time.Duration

	// MaxBufferSize caps inbound HTTP bodies and websocket messages.
	MaxBufferSize        int
	DisableMaxBufferSize bool

	// Custom WebSocket options to use.
	WebSocketAcceptOptions *websocket.AcceptOptions

	// Callback for server errors. Useful for logging.
	OnError ErrorCallback

	// For debugging purposes. Leave it nil if it is of no use.
	Debugger Debugger
}

type Server struct {
	authenticator AuthFunc

	pingInterval     time.Duration
	pingTimeout      time.Duration
	upgradeTimeout   time.Duration
	firstDataTimeout time.Duration

	maxBufferSize        int
	disableMaxBufferSize bool

	wsAcceptOptions *websocket.AcceptOptions

	onSession NewSessionCallback
	onError   ErrorCallback

	sessions  *sessionStore
	conns     *connStore
	scheduler *schedule.Scheduler

	debug Debugger

	closed    chan struct{}
	closeOnce sync.Once
}

func NewServer(onSession NewSessionCallback, config *ServerConfig) *Server {
	if onSession == nil {
		onSession = func(session *Session) *Callbacks { return nil }
	}
	if config == nil {
		config = new(ServerConfig)
	}

	s := &Server{
		authenticator: config.Authenticator,

		pingInterval:     config.PingInterval,
		pingTimeout:      config.PingTimeout,
		upgradeTimeout:   config.UpgradeTimeout,
		firstDataTimeout: config.FirstDataTimeout,

		maxBufferSize:        config.MaxBufferSize,
		disableMaxBufferSize: config.DisableMaxBufferSize,

		wsAcceptOptions: config.WebSocketAcceptOptions,

		onSession: onSession,
		onError:   config.OnError,

		sessions:  newSessionStore(),
		conns:     newConnStore(),
		scheduler: schedule.NewScheduler(),

		debug: config.Debugger,

		closed: make(chan struct{}),
	}

	if s.authenticator == nil {
		s.authenticator = func(w http.ResponseWriter, r *http.Request) (ok bool) { return true }
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultPingTimeout
	}
	if s.upgradeTimeout == 0 {
		s.upgradeTimeout = defaultUpgradeTimeout
	}
	if s.disableMaxBufferSize {
		s.maxBufferSize = 0
	} else if s.maxBufferSize == 0 {
		s.maxBufferSize = defaultMaxBufferSize
	}
	if s.onError == nil {
		s.onError = func(err error) {}
	}
	if s.debug == nil {
		s.debug = NewNoopDebugger()
	}
	return s
}

func (s *Server) Run() error {
	if s.IsClosed() {
		return fmt.Errorf("engine: server is closed and cannot be restarted")
	}
	if s.pingInterval < 1*time.Second {
		return fmt.Errorf("engine: pingInterval must be equal or greater than 1 second")
	}
	if s.pingTimeout < 1*time.Second {
		return fmt.Errorf("engine: pingTimeout must be equal or greater than 1 second")
	}
	if s.upgradeTimeout < 1*time.Second {
		return fmt.Errorf("engine: upgradeTimeout must be equal or greater than 1 second")
	}
	return nil
}

// PollTimeout is how long a GET may park before it returns empty-handed.
func (s *Server) PollTimeout() time.Duration {
	return s.pingInterval + s.pingTimeout
}

func (s *Server) HTTPWriteTimeout() time.Duration {
	// Leave room to write the response after PollTimeout is reached.
	return s.PollTimeout() + 10*time.Second
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	return len(s.sessions.GetAll())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.IsClosed() {
		w.WriteHeader(http.StatusTeapot)
		return
	}

	q := r.URL.Query()

	version, err := strconv.Atoi(q.Get("EIO"))
	if err != nil || version != ProtocolVersion {
		writeError(w, ErrorUnsupportedProtocolVersion)
		return
	}

	sid := q.Get("sid")
	if sid == "" {
		s.handleHandshake(w, r)
		return
	}

	session, ok := s.sessions.Get(sid)
	if !ok {
		writeError(w, ErrorUnknownSID)
		return
	}

	name := q.Get("transport")
	current := session.CurrentTransport()

	if current.String() != name {
		s.maybeUpgrade(w, r, session, name)
		return
	}

	c := session.conn(current)
	if c == nil {
		writeError(w, ErrorBadRequest)
		return
	}
	c.ServeHTTP(w, r)
}

// generateSID allocates a session id not currently in the session store.
// The store rejects overwrites, so a (vanishingly unlikely) collision is
// retried rather than clobbering a live session.
func (s *Server) generateSID() (string, error) {
	for i := 0; i < 10; i++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		sid := id.String()
		if !s.sessions.Exists(sid) {
			return sid, nil
		}
	}
	return "", fmt.Errorf("engine: could not allocate an unused session id")
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		writeError(w, ErrorBadHandshakeMethod)
		return
	}

	if !s.authenticator(w, r) {
		writeError(w, ErrorForbidden)
		return
	}

	q := r.URL.Query()
	name := q.Get("transport")
	supportsBinary := q.Get("b64") == ""

	sid, err := s.generateSID()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		s.onError(wrapInternalError(err))
		return
	}

	var (
		t        Transport
		c        Conn
		upgrades []string
	)

	callbacks := transport.NewCallbacks()

	switch name {
	case "polling":
		t = TransportPolling
		c = polling.NewConn(callbacks, s.maxBufferSize, s.PollTimeout())
		upgrades = []string{"websocket"}
	case "websocket":
		t = TransportWebSocket
		c = _websocket.NewConn(callbacks, s.maxBufferSize, supportsBinary, s.wsAcceptOptions)
	default:
		writeError(w, ErrorUnknownTransport)
		return
	}

	open, err := frame.NewOpenPacket(&frame.OpenData{
		SID:          sid,
		Upgrades:     upgrades,
		PingInterval: int64(s.pingInterval / time.Millisecond),
		PingTimeout:  int64(s.pingTimeout / time.Millisecond),
		MaxPayload:   int64(s.maxBufferSize),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		s.onError(wrapInternalError(fmt.Errorf("handshake packet: %w", err)))
		return
	}

	if err = c.Handshake(open, w, r); err != nil {
		// The transport already answered the request.
		return
	}

	session := newSession(
		sid, t, c, callbacks, upgrades,
		s.pingInterval, s.pingTimeout, s.firstDataTimeout,
		s.scheduler, s.conns, s.debug,
		s.sessions.Delete,
	)
	session.setCallbacks(s.onSession(session))

	if !s.sessions.Set(sid, session) {
		w.WriteHeader(http.StatusInternalServerError)
		s.onError(wrapInternalError(fmt.Errorf("session ids overlap")))
		session.close(ReasonTransportError, nil)
		return
	}

	// Blocks for websocket. Returning from the handler would cancel the
	// request context the connection reads with.
	c.PostHandshake()
}

// maybeUpgrade runs the upgrade probe on a fresh websocket connection: the
// client sends PING "probe", we answer PONG "probe" and force a poll cycle,
// and the client commits with UPGRADE. Until the UPGRADE packet arrives the
// new connection belongs to nobody; the session only learns about it on
// commit.
func (s *Server) maybeUpgrade(w http.ResponseWriter, r *http.Request, session *Session, upgradeTo string) {
	if upgradeTo != "websocket" || session.CurrentTransport() != TransportPolling {
		writeError(w, ErrorBadRequest)
		return
	}

	callbacks := transport.NewCallbacks()
	c := _websocket.NewConn(callbacks, s.maxBufferSize, true, s.wsAcceptOptions)

	if err := c.Handshake(nil, w, r); err != nil {
		return
	}

	timeoutKey := schedule.Key{Kind: schedule.KindUpgradeTimeout, SessionID: session.ID()}
	s.scheduler.Schedule(timeoutKey, s.upgradeTimeout, func() {
		c.Close()
		s.onError(fmt.Errorf("engine: upgrade failed: upgradeTimeout exceeded"))
	})

	onPacket := func(packet *frame.Packet) {
		switch {
		case packet.Type == frame.TypePing && string(packet.Data) == "probe":
			pong, err := frame.New(frame.TypePong, false, []byte("probe"))
			if err != nil {
				return
			}
			c.Write(pong)

			// Force a polling cycle to ensure a fast upgrade.
			noop, err := frame.New(frame.TypeNoop, false, nil)
			if err != nil {
				return
			}
			go session.Send(noop)
		case packet.Type == frame.TypeUpgrade:
			// upgradeTo cancels the timeout and re-points the
			// connection's callbacks at the session.
			session.upgradeTo(c, callbacks)
		default:
			s.scheduler.Cancel(timeoutKey)
			c.Close()
			session.onError(wrapInternalError(fmt.Errorf("upgrade failed: invalid packet received")))
		}
	}

	callbacks.Set(func(packets ...*frame.Packet) {
		for _, p := range packets {
			onPacket(p)
		}
	}, nil)

	c.PostHandshake()
}

func (s *Server) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close rejects new clients, disconnects every session and stops all
// timers.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})

	s.sessions.CloseAll()
	s.scheduler.Close()
	return nil
}

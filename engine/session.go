package engine

import (
	"sync/atomic"
	"time"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/engine/transport"
	"github.com/sionet/sionet/internal/sync"
	"github.com/sionet/sionet/schedule"
)

// transportSlot is the per-transport state of a session: the bound physical
// connection (nil while unbound) and the packets waiting for one.
type transportSlot struct {
	conn  Conn
	queue *packetQueue
}

// Session is one logical client. Its identity survives transport upgrades;
// the physical connections come and go underneath it.
//
// Lifecycle: created on a successful handshake, destroyed on disconnect,
// ping timeout, or transport close with no alternate transport bound.
type Session struct {
	id       string
	upgrades []string

	pingInterval     time.Duration
	pingTimeout      time.Duration
	firstDataTimeout time.Duration

	// mu guards current, slots and disconnected. Queue handoff (upgrade)
	// and queue append (send) race, so both synchronize here rather than
	// on the queues alone.
	mu           sync.Mutex
	current      Transport
	slots        [transportCount]transportSlot
	disconnected bool

	callbacks atomic.Value

	scheduler *schedule.Scheduler
	conns     *connStore
	onClose   func(sid string)

	closeChan chan struct{}
	debug     Debugger
}

func newSession(
	id string,
	t Transport,
	c Conn,
	tc *transport.Callbacks,
	upgrades []string,
	pingInterval, pingTimeout, firstDataTimeout time.Duration,
	scheduler *schedule.Scheduler,
	conns *connStore,
	debug Debugger,
	onClose func(sid string),
) *Session {
	// onClose may be nil in tests that have no session store.
	if onClose == nil {
		onClose = func(sid string) {}
	}

	s := &Session{
		id:               id,
		upgrades:         upgrades,
		pingInterval:     pingInterval,
		pingTimeout:      pingTimeout,
		firstDataTimeout: firstDataTimeout,
		current:          t,
		scheduler:        scheduler,
		conns:            conns,
		onClose:          onClose,
		closeChan:        make(chan struct{}),
		debug:            debug.WithContext("[engine] Session with ID: " + id),
	}
	for i := range s.slots {
		s.slots[i].queue = newPacketQueue()
	}
	s.slots[t].conn = c
	s.setCallbacks(nil)

	tc.Set(s.onPacket, s.onConnClose)
	conns.Set(c.ID(), s)

	s.armPingTimeout()
	if firstDataTimeout > 0 {
		s.scheduler.Schedule(schedule.Key{Kind: schedule.KindHandshakeTimeout, SessionID: id}, firstDataTimeout, func() {
			s.close(ReasonHandshakeTimeout, nil)
		})
	}
	go s.pinger()

	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Upgrades() []string { return s.upgrades }

func (s *Session) PingInterval() time.Duration { return s.pingInterval }

func (s *Session) PingTimeout() time.Duration { return s.pingTimeout }

func (s *Session) CurrentTransport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) TransportName() string {
	return s.CurrentTransport().String()
}

func (s *Session) getCallbacks() *Callbacks {
	callbacks, _ := s.callbacks.Load().(*Callbacks)
	return callbacks
}

func (s *Session) setCallbacks(callbacks *Callbacks) {
	if callbacks == nil {
		callbacks = new(Callbacks)
	}
	callbacks.setMissing()

	// Copy so the caller can't swap handlers underneath us.
	c := *callbacks
	s.callbacks.Store(&c)
}

// Send queues packets on the current transport and flushes them if it has a
// live connection.
func (s *Session) Send(packets ...*frame.Packet) {
	s.mu.Lock()
	t := s.current
	s.sendLocked(t, packets...)
	s.mu.Unlock()
}

func (s *Session) sendLocked(t Transport, packets ...*frame.Packet) {
	if s.disconnected {
		return
	}
	s.slots[t].queue.Add(packets...)
	s.flushLocked(t)
}

// flushLocked drains the slot queue onto the bound connection, preserving
// enqueue order. Writing under the session lock keeps concurrent senders
// FIFO per slot; connection writes never block unboundedly.
func (s *Session) flushLocked(t Transport) {
	c := s.slots[t].conn
	if c == nil {
		return
	}
	if packets := s.slots[t].queue.Get(); len(packets) > 0 {
		c.Write(packets...)
	}
}

// upgradeTo completes the transport upgrade. The polling slot's packets,
// both those staged in the old connection and those still queued, move to
// the websocket slot ahead of anything sent later. The websocket connection
// binds and polling goes inert.
func (s *Session) upgradeTo(c Conn, tc *transport.Callbacks) {
	s.debug.Log("Upgrading to", c.Name())
	tc.Set(s.onPacket, s.onConnClose)

	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		c.Close()
		return
	}

	old := s.slots[TransportPolling].conn
	s.slots[TransportPolling].conn = nil

	var carried []*frame.Packet
	if old != nil {
		carried = old.QueuedPackets()
	}
	carried = append(carried, s.slots[TransportPolling].queue.Get()...)

	// NOOPs only existed to force poll cycles; they don't carry over.
	kept := carried[:0]
	for _, p := range carried {
		if p.Type != frame.TypeNoop {
			kept = append(kept, p)
		}
	}

	s.slots[TransportWebSocket].queue.PushFront(kept...)
	s.slots[TransportWebSocket].conn = c
	s.current = TransportWebSocket

	if old != nil {
		s.conns.Evict(old.ID())
	}
	s.conns.Set(c.ID(), s)
	s.flushLocked(TransportWebSocket)
	s.mu.Unlock()

	s.scheduler.Cancel(schedule.Key{Kind: schedule.KindUpgradeTimeout, SessionID: s.id})

	if old != nil {
		// Let a parked GET return with a NOOP; the connection is done.
		old.Discard()
	}
}

func (s *Session) conn(t Transport) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[t].conn
}

func (s *Session) onPacket(packets ...*frame.Packet) {
	// Any inbound traffic proves liveness.
	s.armPingTimeout()

	s.getCallbacks().OnPacket(packets...)

	for _, p := range packets {
		s.handlePacket(p)
	}
}

func (s *Session) handlePacket(p *frame.Packet) {
	switch p.Type {
	case frame.TypePing:
		// Legacy clients (and upgrade probes on an already-bound
		// transport) drive the heartbeat themselves; answer in kind.
		pong, err := frame.New(frame.TypePong, false, p.Data)
		if err == nil {
			s.Send(pong)
		}
	case frame.TypePong:
		s.debug.Log("pong received")
	case frame.TypeMessage:
		s.scheduler.Cancel(schedule.Key{Kind: schedule.KindHandshakeTimeout, SessionID: s.id})
	case frame.TypeClose:
		s.close(ReasonTransportClose, nil)
	}
}

// armPingTimeout (re-)arms the liveness deadline. Scheduling the same key
// replaces the previous timer, so there is never a stale deadline left to
// fire.
func (s *Session) armPingTimeout() {
	s.scheduler.Schedule(
		schedule.Key{Kind: schedule.KindPingTimeout, SessionID: s.id},
		s.pingInterval+s.pingTimeout,
		func() { s.close(ReasonPingTimeout, nil) },
	)
}

func (s *Session) pinger() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			ping, err := frame.New(frame.TypePing, false, nil)
			if err != nil {
				s.onError(err)
				return
			}
			s.Send(ping)
		}
	}
}

func (s *Session) onError(err error) {
	if err != nil {
		s.getCallbacks().OnError(err)
	}
}

// onConnClose reacts to a physical connection dying. Runs on its own
// goroutine since close paths take the session lock.
func (s *Session) onConnClose(connID uint64, err error) {
	go func() {
		s.debug.Log("Connection closed", connID, err)

		// The registry is the authority on ownership. A connection
		// replaced during an upgrade was evicted there; its late close
		// event no longer concerns the session.
		if owner, ok := s.conns.Get(connID); !ok || owner != s {
			return
		}
		s.conns.Evict(connID)

		s.mu.Lock()
		if s.disconnected {
			s.mu.Unlock()
			return
		}

		slot := -1
		alternate := false
		for i := range s.slots {
			c := s.slots[i].conn
			if c == nil {
				continue
			}
			if c.ID() == connID {
				slot = i
			} else {
				alternate = true
			}
		}
		if slot >= 0 {
			s.slots[slot].conn = nil
		}
		current := s.current
		s.mu.Unlock()

		// A non-current connection dying doesn't end the session;
		// losing the current transport with no alternate does.
		if slot < 0 || Transport(slot) != current || alternate {
			return
		}
		if err == nil {
			s.close(ReasonTransportClose, nil)
		} else {
			s.close(ReasonTransportError, err)
		}
	}()
}

// close tears the session down exactly once. The scheduler entries are
// canceled synchronously before anything is released so no timer can fire
// into a half-dead session.
func (s *Session) close(reason Reason, err error) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true

	var conns []Conn
	for i := range s.slots {
		if c := s.slots[i].conn; c != nil {
			conns = append(conns, c)
			s.slots[i].conn = nil
		}
		s.slots[i].queue.Get()
	}
	s.mu.Unlock()

	s.debug.Log("Closing. Reason", reason)

	s.scheduler.CancelSession(s.id)
	close(s.closeChan)

	for _, c := range conns {
		s.conns.Evict(c.ID())
		c.Close()
	}

	s.getCallbacks().OnClose(reason, err)
	s.onClose(s.id)
}

// Close force-disconnects the session.
func (s *Session) Close() {
	s.close(ReasonForcedClose, nil)
}

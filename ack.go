package sionet

import (
	"fmt"
	"time"

	"github.com/sionet/sionet/internal/sync"
	"github.com/sionet/sionet/schedule"
)

// ErrAckTimeout is handed to an AckHandler whose reply did not arrive
// within the configured AckTimeout.
var ErrAckTimeout = fmt.Errorf("sionet: ack timed out")

// AckHandler receives the acknowledgment of an emitted event. On success
// event carries the reply arguments and err is nil; on expiry event is nil
// and err is ErrAckTimeout. Invoked at most once.
type AckHandler func(event *Event, err error)

// ackManager correlates outgoing ack ids with their handlers. Ids increase
// monotonically per session, starting at 1, and are never reused within a
// session. An entry is removed by exactly one of: the matching ACK packet,
// the timeout, or the session's disconnect.
type ackManager struct {
	mu      sync.Mutex
	next    map[string]uint64
	pending map[string]map[uint64]AckHandler

	scheduler *schedule.Scheduler
	timeout   time.Duration
}

func newAckManager(scheduler *schedule.Scheduler, timeout time.Duration) *ackManager {
	return &ackManager{
		next:      make(map[string]uint64),
		pending:   make(map[string]map[uint64]AckHandler),
		scheduler: scheduler,
		timeout:   timeout,
	}
}

// Register allocates an ack id for sid and stores the handler. With a
// nonzero timeout configured, an expiry is armed which consumes the entry
// and fires the handler's timeout path.
func (m *ackManager) Register(sid string, handler AckHandler) (ackID uint64) {
	m.mu.Lock()
	m.next[sid]++
	ackID = m.next[sid]

	p, ok := m.pending[sid]
	if !ok {
		p = make(map[uint64]AckHandler)
		m.pending[sid] = p
	}
	p[ackID] = handler
	m.mu.Unlock()

	if m.timeout > 0 {
		m.scheduler.Schedule(
			schedule.Key{Kind: schedule.KindAckTimeout, SessionID: sid, AckID: ackID},
			m.timeout,
			func() {
				if h, ok := m.consume(sid, ackID); ok {
					h(nil, ErrAckTimeout)
				}
			},
		)
	}
	return ackID
}

// Has reports whether an entry is pending without consuming it. Implements
// the decoder's peek for dropping replies to unknown ids.
func (m *ackManager) Has(sid string, ackID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[sid][ackID]
	return ok
}

func (m *ackManager) consume(sid string, ackID uint64) (handler AckHandler, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[sid]
	if !ok {
		return nil, false
	}
	handler, ok = p[ackID]
	if ok {
		delete(p, ackID)
		if len(p) == 0 {
			delete(m.pending, sid)
		}
	}
	return handler, ok
}

// OnAck resolves an inbound acknowledgment: the pending handler is consumed
// and invoked, its expiry canceled. An unknown id is ignored.
func (m *ackManager) OnAck(sid string, ackID uint64, event *Event) {
	m.scheduler.Cancel(schedule.Key{Kind: schedule.KindAckTimeout, SessionID: sid, AckID: ackID})

	handler, ok := m.consume(sid, ackID)
	if !ok {
		return
	}
	handler(event, nil)
}

// ReleaseSession drops every pending entry of a session without invoking
// the handlers. The ack id counter goes too; session ids are never reused,
// so neither are their ack ids.
func (m *ackManager) ReleaseSession(sid string) {
	m.mu.Lock()
	delete(m.pending, sid)
	delete(m.next, sid)
	m.mu.Unlock()
}

// PendingCount reports the number of unresolved acks of a session.
func (m *ackManager) PendingCount(sid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[sid])
}

// sessionAckPeeker adapts the manager to the decoder's per-session peek.
type sessionAckPeeker struct {
	acks *ackManager
	sid  string
}

func (p sessionAckPeeker) HasAck(ackID uint64) bool {
	return p.acks.Has(p.sid, ackID)
}

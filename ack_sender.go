package sionet

import (
	"github.com/sionet/sionet/internal/sync"
)

// AckMode decides who answers an inbound event that carries an ack id.
type AckMode int

const (
	// AckModeAuto sends an empty acknowledgment after the event handlers
	// return, unless one of them already replied via Event.Ack.
	AckModeAuto AckMode = iota

	// AckModeManual leaves acknowledgments entirely to Event.Ack; an
	// event nobody acks stays unanswered.
	AckModeManual
)

// ackSender is the one-shot guard around acknowledging a single inbound
// event. However many handlers run, at most one ack goes to the wire.
type ackSender struct {
	conn      *serverConn
	namespace string
	mode      AckMode

	mu   sync.Mutex
	sent bool
}

func newAckSender(conn *serverConn, namespace string, mode AckMode) *ackSender {
	return &ackSender{
		conn:      conn,
		namespace: namespace,
		mode:      mode,
	}
}

// Send delivers an explicit acknowledgment. Repeated calls are no-ops.
func (s *ackSender) Send(ackID uint64, args ...any) error {
	s.mu.Lock()
	if s.sent {
		s.mu.Unlock()
		return nil
	}
	s.sent = true
	s.mu.Unlock()

	return s.conn.sendAck(s.namespace, ackID, args)
}

// Finish runs after the event handlers returned. In AUTO mode it emits the
// empty acknowledgment for an event nobody replied to.
func (s *ackSender) Finish(ackID uint64) {
	if s.mode != AckModeAuto {
		return
	}

	s.mu.Lock()
	if s.sent {
		s.mu.Unlock()
		return
	}
	s.sent = true
	s.mu.Unlock()

	if err := s.conn.sendAck(s.namespace, ackID, nil); err != nil {
		s.conn.onError(err)
	}
}

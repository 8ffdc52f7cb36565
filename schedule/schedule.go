// Package schedule provides a keyed, cancelable delayed-task scheduler.
//
// Every timer is registered under a Key. Scheduling a key that already has a
// live timer replaces the old one atomically, so a key can never fire twice.
// This replace-on-reschedule contract is what the ping/pong liveness protocol
// relies on: each observed activity re-arms the ping-timeout entry without a
// window in which both the stale and the fresh timer exist.
package schedule

import (
	"time"

	"github.com/sionet/sionet/internal/sync"
)

type Kind byte

const (
	KindPingTimeout Kind = iota
	KindHandshakeTimeout
	KindUpgradeTimeout
	KindAckTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPingTimeout:
		return "ping_timeout"
	case KindHandshakeTimeout:
		return "handshake_timeout"
	case KindUpgradeTimeout:
		return "upgrade_timeout"
	case KindAckTimeout:
		return "ack_timeout"
	default:
		return "unknown"
	}
}

// Key identifies one scheduled task. AckID is only meaningful for
// KindAckTimeout and stays zero otherwise.
type Key struct {
	Kind      Kind
	SessionID string
	AckID     uint64
}

type Scheduler struct {
	mu     sync.Mutex
	timers map[Key]*time.Timer
	closed bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[Key]*time.Timer),
	}
}

// Schedule arms a timer for key. An existing timer for the same key is
// stopped and replaced. The action runs on a timer goroutine, never on the
// caller's goroutine, and the key is released before the action is invoked
// so the action itself may re-schedule the same key.
func (s *Scheduler) Schedule(key Key, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// The timer may have been replaced after this function was
		// already committed to run. Only the live registration fires.
		current, ok := s.timers[key]
		if !ok || current != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		action()
	})
	s.timers[key] = t
}

// Cancel stops and removes the timer for key. Canceling a key that was
// never scheduled (or already fired) is a no-op.
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// CancelSession removes every entry of the given session, whatever the kind.
func (s *Scheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.SessionID == sessionID {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// Exists reports whether a timer is currently armed for key.
func (s *Scheduler) Exists(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels all timers and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

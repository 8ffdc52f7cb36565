package polling

import (
	"time"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/internal/sync"
)

type pollQueue struct {
	packets []*frame.Packet
	ready   chan struct{}
	mu      sync.Mutex
}

func newPollQueue() *pollQueue {
	return &pollQueue{
		ready: make(chan struct{}, 1),
	}
}

// poll returns the queued packets, waiting up to pollTimeout for the first
// one to arrive. The ready signal can outlive the packets that raised it
// (a drain via get can race an add), so a wakeup that finds the queue empty
// parks again. Returning an empty body before the timeout would violate the
// framing the client expects.
func (pq *pollQueue) poll(pollTimeout time.Duration) []*frame.Packet {
	deadline := time.After(pollTimeout)
	for {
		if packets := pq.get(); len(packets) > 0 {
			return packets
		}
		select {
		case <-pq.ready:
		case <-deadline:
			return nil
		}
	}
}

func (pq *pollQueue) add(packets ...*frame.Packet) {
	pq.mu.Lock()
	pq.packets = append(pq.packets, packets...)
	pq.mu.Unlock()

	select {
	case pq.ready <- struct{}{}:
	default:
	}
}

// get retrieves and clears the queued packets without waiting.
func (pq *pollQueue) get() []*frame.Packet {
	pq.mu.Lock()
	packets := pq.packets
	pq.packets = nil
	pq.mu.Unlock()
	return packets
}

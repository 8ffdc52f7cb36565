package engine

import (
	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/internal/sync"
)

// packetQueue is the pending-packet queue of one transport slot: packets
// wait here while the slot has no bound connection. FIFO.
type packetQueue struct {
	packets []*frame.Packet
	mu      sync.Mutex
}

func newPacketQueue() *packetQueue {
	return new(packetQueue)
}

func (pq *packetQueue) Add(packets ...*frame.Packet) {
	pq.mu.Lock()
	pq.packets = append(pq.packets, packets...)
	pq.mu.Unlock()
}

// Get retrieves and clears the queued packets.
func (pq *packetQueue) Get() []*frame.Packet {
	pq.mu.Lock()
	packets := pq.packets
	pq.packets = nil
	pq.mu.Unlock()
	return packets
}

// PushFront puts packets back at the head of the queue, ahead of anything
// queued meanwhile. Used by the upgrade handoff to keep the old transport's
// packets ordered before newer sends.
func (pq *packetQueue) PushFront(packets ...*frame.Packet) {
	if len(packets) == 0 {
		return
	}
	pq.mu.Lock()
	pq.packets = append(packets, pq.packets...)
	pq.mu.Unlock()
}

func (pq *packetQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.packets)
}

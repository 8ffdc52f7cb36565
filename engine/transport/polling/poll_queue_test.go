package polling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sionet/sionet/engine/frame"
)

func queuedMessage(t *testing.T, data string) *frame.Packet {
	t.Helper()
	p, err := frame.New(frame.TypeMessage, false, []byte(data))
	require.NoError(t, err)
	return p
}

func TestPollQueueImmediateWhenPacketsQueued(t *testing.T) {
	pq := newPollQueue()
	pq.add(queuedMessage(t, "a"), queuedMessage(t, "b"))

	packets := pq.poll(time.Second)
	require.Len(t, packets, 2)
	assert.Equal(t, "a", string(packets[0].Data))
	assert.Equal(t, "b", string(packets[1].Data))
}

func TestPollQueueWaitsForLatePacket(t *testing.T) {
	pq := newPollQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		pq.add(queuedMessage(t, "late"))
	}()

	packets := pq.poll(time.Second)
	require.Len(t, packets, 1)
	assert.Equal(t, "late", string(packets[0].Data))
}

func TestPollQueueTimesOutEmpty(t *testing.T) {
	pq := newPollQueue()

	start := time.Now()
	packets := pq.poll(50 * time.Millisecond)
	assert.Empty(t, packets)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

// A poll cycle that drained the queue on its fast path leaves the ready
// signal behind. The next poll must park for the timeout instead of waking
// to an empty queue and answering with an empty body.
func TestPollQueueStaleSignalDoesNotEndPollEarly(t *testing.T) {
	pq := newPollQueue()

	pq.add(queuedMessage(t, "first"))
	require.Len(t, pq.poll(time.Second), 1)

	start := time.Now()
	packets := pq.poll(60 * time.Millisecond)
	assert.Empty(t, packets)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPollQueuePicksUpPacketAfterFastPathDrain(t *testing.T) {
	pq := newPollQueue()

	pq.add(queuedMessage(t, "first"))
	require.Len(t, pq.poll(time.Second), 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		pq.add(queuedMessage(t, "second"))
	}()

	packets := pq.poll(time.Second)
	require.Len(t, packets, 1)
	assert.Equal(t, "second", string(packets[0].Data))
}

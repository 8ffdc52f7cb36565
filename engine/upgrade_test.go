package engine

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/sionet/sionet/engine/frame"
)

// quietConfig keeps the heartbeat out of the way so the frames under test
// are the only traffic.
func quietConfig() *ServerConfig {
	return &ServerConfig{
		PingInterval: time.Hour,
		PingTimeout:  time.Hour,
	}
}

func TestServerWebSocketHandshake(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, ts.URL+"/?EIO=4&transport=websocket", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	mt, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, mt)

	p, err := frame.Parse(data, false)
	require.NoError(t, err)
	require.Equal(t, frame.TypeOpen, p.Type)

	open, err := frame.ParseOpen(p)
	require.NoError(t, err)
	assert.NotEmpty(t, open.SID)
	assert.Empty(t, open.Upgrades, "websocket has nothing left to upgrade to")
	assert.Equal(t, 1, s.SessionCount())
}

func TestServerUpgradeProbe(t *testing.T) {
	sessions := make(chan *Session, 1)
	s := newTestServer(func(session *Session) *Callbacks {
		sessions <- session
		return nil
	}, quietConfig())
	defer s.Close()
	ts := httptest.NewServer(s)
	defer ts.Close()

	open := doPollingHandshake(t, s)
	session := <-sessions

	// Park a poll; the probe must flush it with a NOOP.
	polled := make(chan []*frame.Packet, 1)
	go func() {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}, "sid": {open.SID}}))
		packets, _ := frame.DecodePayload(rec.Body.Bytes())
		polled <- packets
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, ts.URL+"/?EIO=4&transport=websocket&sid="+open.SID, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("2probe")))

	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3probe", string(data))

	select {
	case packets := <-polled:
		var types []frame.Type
		for _, p := range packets {
			types = append(types, p.Type)
		}
		assert.Contains(t, types, frame.TypeNoop)
	case <-time.After(2 * time.Second):
		t.Fatal("parked poll was not flushed by the probe")
	}

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("5")))

	deadline := time.Now().Add(2 * time.Second)
	for session.CurrentTransport() != TransportWebSocket {
		if time.Now().After(deadline) {
			t.Fatal("upgrade did not commit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	session.Send(mustMessage(t, "over websocket"))

	_, data, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4over websocket", string(data))
}

func TestServerUpgradeTimeout(t *testing.T) {
	config := quietConfig()
	config.UpgradeTimeout = 100 * time.Millisecond
	s := newTestServer(nil, config)
	defer s.Close()
	ts := httptest.NewServer(s)
	defer ts.Close()

	open := doPollingHandshake(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, ts.URL+"/?EIO=4&transport=websocket&sid="+open.SID, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Send no probe: the server abandons the connection when the
	// upgrade window runs out.
	_, _, err = c.Read(ctx)
	require.Error(t, err)

	// The session never left polling.
	assert.Equal(t, 1, s.SessionCount())
	session, ok := s.sessions.Get(open.SID)
	require.True(t, ok)
	assert.Equal(t, TransportPolling, session.CurrentTransport())
}

func TestServerUpgradeRejectsInvalidProbe(t *testing.T) {
	s := newTestServer(nil, quietConfig())
	defer s.Close()
	ts := httptest.NewServer(s)
	defer ts.Close()

	open := doPollingHandshake(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, ts.URL+"/?EIO=4&transport=websocket&sid="+open.SID, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// A MESSAGE before the probe handshake is a protocol violation.
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("4hello")))

	_, _, err = c.Read(ctx)
	require.Error(t, err)

	session, ok := s.sessions.Get(open.SID)
	require.True(t, ok)
	assert.Equal(t, TransportPolling, session.CurrentTransport())
}

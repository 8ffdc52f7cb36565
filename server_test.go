package sionet

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sionet/sionet/engine/frame"
)

var errUnauthorized = errors.New("unauthorized")

// testClient drives one client session over the polling transport with raw
// wire strings.
type testClient struct {
	t      *testing.T
	server *Server
	sid    string
}

func newTestServer(t *testing.T, config *Config) *Server {
	t.Helper()
	if config == nil {
		config = new(Config)
	}
	if config.PingInterval == 0 {
		config.PingInterval = time.Minute
	}
	if config.PingTimeout == 0 {
		config.PingTimeout = time.Minute
	}
	s := NewServer(config)
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/socket.io/?EIO=4&transport=polling", nil)
	s.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	packets, err := frame.DecodePayload(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, packets, 1)
	open, err := frame.ParseOpen(packets[0])
	require.NoError(t, err)

	return &testClient{t: t, server: s, sid: open.SID}
}

// post sends one raw engine payload body.
func (c *testClient) post(body string) {
	c.t.Helper()

	q := url.Values{"EIO": {"4"}, "transport": {"polling"}, "sid": {c.sid}}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/socket.io/?"+q.Encode(), strings.NewReader(body))
	c.server.ServeHTTP(rec, r)
	require.Equal(c.t, http.StatusOK, rec.Code)
	require.Equal(c.t, "ok", rec.Body.String())
}

// poll drains one poll cycle and returns the MESSAGE frames.
func (c *testClient) poll() []*frame.Packet {
	c.t.Helper()

	q := url.Values{"EIO": {"4"}, "transport": {"polling"}, "sid": {c.sid}}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/socket.io/?"+q.Encode(), nil)
	c.server.ServeHTTP(rec, r)
	require.Equal(c.t, http.StatusOK, rec.Code)

	packets, err := frame.DecodePayload(rec.Body.Bytes())
	require.NoError(c.t, err)

	var messages []*frame.Packet
	for _, p := range packets {
		if p.Type == frame.TypeMessage {
			messages = append(messages, p)
		}
	}
	return messages
}

// pollStrings is poll with text frame payloads as strings.
func (c *testClient) pollStrings() []string {
	c.t.Helper()
	packets := c.poll()
	payloads := make([]string, len(packets))
	for i, p := range packets {
		payloads[i] = string(p.Data)
	}
	return payloads
}

func (c *testClient) connect(namespace string) {
	c.t.Helper()
	if namespace == "/" {
		c.post("40")
	} else {
		c.post("40" + namespace + ",")
	}

	payloads := c.pollStrings()
	require.Len(c.t, payloads, 1)
	require.True(c.t, strings.HasPrefix(payloads[0], "0"), "expected a CONNECT reply, got %q", payloads[0])
}

func TestConnectRootNamespace(t *testing.T) {
	s := newTestServer(t, nil)

	connected := make(chan *Socket, 1)
	s.Of("/").OnConnect(func(socket *Socket) {
		connected <- socket
	})

	c := dial(t, s)
	c.post("40")

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.True(t, strings.HasPrefix(payloads[0], `0{"sid":"`), "got %q", payloads[0])

	select {
	case socket := <-connected:
		assert.NotEmpty(t, socket.ID())
		assert.True(t, socket.IsConnected())
		assert.Equal(t, c.sid, socket.SessionID())
	case <-time.After(time.Second):
		t.Fatal("connect handler was not fired")
	}
}

func TestConnectUnknownNamespace(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	c.post("40/nope,")

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.Equal(t, `4/nope,{"message":"Invalid namespace"}`, payloads[0])
}

func TestConnectMiddlewareRejects(t *testing.T) {
	s := newTestServer(t, nil)

	s.Of("/admin").Use(func(socket *Socket, handshake *Handshake) error {
		var auth struct {
			Token string `json:"token"`
		}
		if err := handshake.Auth(&auth); err != nil {
			return err
		}
		if auth.Token != "letmein" {
			return errUnauthorized
		}
		return nil
	})

	c := dial(t, s)
	c.post(`40/admin,{"token":"wrong"}`)

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.Equal(t, `4/admin,{"message":"unauthorized"}`, payloads[0])
	assert.Empty(t, s.Of("/admin").Sockets())
}

func TestConnectMiddlewareAccepts(t *testing.T) {
	s := newTestServer(t, nil)

	s.Of("/admin").Use(func(socket *Socket, handshake *Handshake) error {
		var auth struct {
			Token string `json:"token"`
		}
		if err := handshake.Auth(&auth); err != nil {
			return err
		}
		if auth.Token != "letmein" {
			return errUnauthorized
		}
		return nil
	})

	c := dial(t, s)
	c.post(`40/admin,{"token":"letmein"}`)

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.True(t, strings.HasPrefix(payloads[0], `0/admin,{"sid":"`), "got %q", payloads[0])
	assert.Len(t, s.Of("/admin").Sockets(), 1)
}

func TestEventDispatchWithAutoAck(t *testing.T) {
	s := newTestServer(t, nil)

	type deletion struct {
		received chan int
	}
	d := deletion{received: make(chan int, 1)}

	s.Of("/").OnEvent("project:delete", func(socket *Socket, event *Event) {
		var id int
		require.NoError(t, event.Args(&id))
		d.received <- id
	})

	c := dial(t, s)
	c.connect("/")

	c.post(`42456["project:delete",123]`)

	select {
	case id := <-d.received:
		assert.Equal(t, 123, id)
	case <-time.After(time.Second):
		t.Fatal("event handler was not fired")
	}

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.Equal(t, "3456[]", payloads[0])
}

func TestEventManualAck(t *testing.T) {
	s := newTestServer(t, &Config{AckMode: AckModeManual})

	s.Of("/").OnEvent("ask", func(socket *Socket, event *Event) {
		require.True(t, event.NeedsAck())
		require.NoError(t, event.Ack("answer"))
	})

	c := dial(t, s)
	c.connect("/")

	c.post(`427["ask"]`)

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.Equal(t, `37["answer"]`, payloads[0])
}

func TestEventManualModeSendsNothingWithoutAck(t *testing.T) {
	s := newTestServer(t, &Config{AckMode: AckModeManual})

	handled := make(chan struct{}, 1)
	s.Of("/").OnEvent("quiet", func(socket *Socket, event *Event) {
		handled <- struct{}{}
	})

	c := dial(t, s)
	c.connect("/")
	c.post(`429["quiet"]`)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("event handler was not fired")
	}

	// Trigger another event so the poll has something to return; the
	// unacked event must not have produced an ack packet before it.
	s.Of("/").Emit("follow-up")
	payloads := c.pollStrings()
	require.NotEmpty(t, payloads)
	assert.Equal(t, `2["follow-up"]`, payloads[0])
}

func TestEmitWithAckRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	connected := make(chan *Socket, 1)
	s.Of("/").OnConnect(func(socket *Socket) { connected <- socket })

	c := dial(t, s)
	c.connect("/")
	socket := <-connected

	acked := make(chan string, 1)
	require.NoError(t, socket.EmitWithAck("greet", func(event *Event, err error) {
		require.NoError(t, err)
		var reply string
		require.NoError(t, event.Args(&reply))
		acked <- reply
	}, "hi"))

	payloads := c.pollStrings()
	require.Len(t, payloads, 1)
	assert.Equal(t, `21["greet","hi"]`, payloads[0])

	c.post(`431["hello"]`)

	select {
	case reply := <-acked:
		assert.Equal(t, "hello", reply)
	case <-time.After(time.Second):
		t.Fatal("ack handler was not fired")
	}
	assert.Equal(t, 0, s.acks.PendingCount(c.sid))
}

func TestEmitAckTimesOut(t *testing.T) {
	s := newTestServer(t, &Config{AckTimeout: 30 * time.Millisecond})

	connected := make(chan *Socket, 1)
	s.Of("/").OnConnect(func(socket *Socket) { connected <- socket })

	c := dial(t, s)
	c.connect("/")
	socket := <-connected

	timedOut := make(chan error, 1)
	require.NoError(t, socket.EmitWithAck("greet", func(event *Event, err error) {
		timedOut <- err
	}))

	select {
	case err := <-timedOut:
		assert.ErrorIs(t, err, ErrAckTimeout)
	case <-time.After(time.Second):
		t.Fatal("ack handler did not time out")
	}
	assert.Equal(t, 0, s.acks.PendingCount(c.sid))

	// A late reply to the expired id is dropped on decode.
	c.post(`431["too late"]`)
}

func TestDisconnectPacket(t *testing.T) {
	s := newTestServer(t, nil)

	disconnected := make(chan string, 1)
	s.Of("/").OnDisconnect(func(socket *Socket, reason string) {
		disconnected <- reason
	})

	c := dial(t, s)
	c.connect("/")
	require.Len(t, s.Of("/").Sockets(), 1)

	c.post("41")

	select {
	case reason := <-disconnected:
		assert.Equal(t, "client namespace disconnect", reason)
	case <-time.After(time.Second):
		t.Fatal("disconnect handler was not fired")
	}
	assert.Empty(t, s.Of("/").Sockets())
}

func TestSessionCloseDisconnectsSockets(t *testing.T) {
	s := newTestServer(t, nil)

	connected := make(chan *Socket, 1)
	disconnected := make(chan string, 1)
	s.Of("/").OnConnect(func(socket *Socket) { connected <- socket })
	s.Of("/").OnDisconnect(func(socket *Socket, reason string) { disconnected <- reason })

	c := dial(t, s)
	c.connect("/")
	socket := <-connected
	socket.Join("room")

	socket.Disconnect(true)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler was not fired")
	}

	assert.Empty(t, s.Of("/").Sockets())
	_, ok := s.Of("/").Adapter().SocketRooms(socket.ID())
	assert.False(t, ok, "rooms must be cleaned up on disconnect")
	assert.Equal(t, 0, s.acks.PendingCount(c.sid))
}

func TestBroadcastToRoom(t *testing.T) {
	s := newTestServer(t, nil)

	sockets := make(chan *Socket, 2)
	s.Of("/").OnConnect(func(socket *Socket) { sockets <- socket })

	a := dial(t, s)
	a.connect("/")
	socketA := <-sockets

	b := dial(t, s)
	b.connect("/")
	<-sockets

	socketA.Join("vip")

	require.NoError(t, s.Of("/").To("vip").Emit("exclusive", 1))
	require.NoError(t, s.Of("/").Emit("everyone"))

	assert.Equal(t, []string{`2["exclusive",1]`, `2["everyone"]`}, a.pollStrings())
	assert.Equal(t, []string{`2["everyone"]`}, b.pollStrings())
}

func TestSocketBroadcastExcludesSelf(t *testing.T) {
	s := newTestServer(t, nil)

	sockets := make(chan *Socket, 2)
	s.Of("/").OnConnect(func(socket *Socket) { sockets <- socket })

	a := dial(t, s)
	a.connect("/")
	socketA := <-sockets

	b := dial(t, s)
	b.connect("/")
	<-sockets

	require.NoError(t, socketA.Broadcast().Emit("hello"))
	require.NoError(t, s.Of("/").Emit("flush"))

	assert.Equal(t, []string{`2["flush"]`}, a.pollStrings())
	assert.Equal(t, []string{`2["hello"]`, `2["flush"]`}, b.pollStrings())
}

func TestBinaryEventToClient(t *testing.T) {
	s := newTestServer(t, nil)

	connected := make(chan *Socket, 1)
	s.Of("/").OnConnect(func(socket *Socket) { connected <- socket })

	c := dial(t, s)
	c.connect("/")
	socket := <-connected

	require.NoError(t, socket.Emit("pic", Binary{1, 2, 3}))

	packets := c.poll()
	require.Len(t, packets, 2)
	assert.False(t, packets[0].IsBinary)
	assert.Equal(t, `51-["pic",{"_placeholder":true,"num":0}]`, string(packets[0].Data))
	assert.True(t, packets[1].IsBinary)
	assert.Equal(t, []byte{1, 2, 3}, packets[1].Data)
}

func TestBinaryEventFromClient(t *testing.T) {
	s := newTestServer(t, nil)

	received := make(chan Binary, 1)
	s.Of("/").OnEvent("upload", func(socket *Socket, event *Event) {
		var data Binary
		require.NoError(t, event.Args(&data))
		received <- data
	})

	c := dial(t, s)
	c.connect("/")

	// Text head and its attachment in one payload; the attachment
	// travels base64-coded over the text transport.
	c.post("451-[\"upload\",{\"_placeholder\":true,\"num\":0}]\x1ebAQID")

	select {
	case data := <-received:
		assert.Equal(t, Binary{1, 2, 3}, data)
	case <-time.After(time.Second):
		t.Fatal("event handler was not fired")
	}
}

func TestEventBeforeConnectIsIgnored(t *testing.T) {
	s := newTestServer(t, nil)

	handled := make(chan struct{}, 1)
	s.Of("/").OnEvent("early", func(socket *Socket, event *Event) {
		handled <- struct{}{}
	})

	c := dial(t, s)
	c.post(`42["early"]`)

	select {
	case <-handled:
		t.Fatal("event was dispatched without a connected socket")
	case <-time.After(100 * time.Millisecond):
	}
}

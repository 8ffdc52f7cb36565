package engine

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/internal/json"
)

func newTestServer(onSession NewSessionCallback, config *ServerConfig) *Server {
	if config == nil {
		config = new(ServerConfig)
	}
	if config.PingInterval == 0 {
		config.PingInterval = time.Second
	}
	if config.PingTimeout == 0 {
		config.PingTimeout = time.Second
	}
	return NewServer(onSession, config)
}

func handshakeRequest(query url.Values) *http.Request {
	if query.Get("EIO") == "" {
		query.Set("EIO", "4")
	}
	return httptest.NewRequest(http.MethodGet, "/engine.io/?"+query.Encode(), nil)
}

func doPollingHandshake(t *testing.T, s *Server) *frame.OpenData {
	t.Helper()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	packets, err := frame.DecodePayload(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, packets, 1)

	open, err := frame.ParseOpen(packets[0])
	require.NoError(t, err)
	return open
}

func decodeServerError(t *testing.T, rec *httptest.ResponseRecorder) ServerError {
	t.Helper()
	var se ServerError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &se))
	return se
}

func TestServerHandshakePolling(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()
	require.NoError(t, s.Run())

	open := doPollingHandshake(t, s)
	assert.NotEmpty(t, open.SID)
	assert.Equal(t, []string{"websocket"}, open.Upgrades)
	assert.Equal(t, int64(1000), open.PingInterval)
	assert.Equal(t, int64(1000), open.PingTimeout)
	assert.Equal(t, 1, s.SessionCount())
}

func TestServerRejectsUnsupportedProtocolVersion(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()

	// Built by hand: handshakeRequest defaults a missing EIO to the
	// supported version, and a missing EIO must be rejected too.
	for _, eio := range []string{"", "3", "banana"} {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/engine.io/?EIO="+eio+"&transport=polling", nil)
		s.ServeHTTP(rec, r)
		require.Equal(t, http.StatusBadRequest, rec.Code, "EIO=%q", eio)
		assert.Equal(t, ErrorUnsupportedProtocolVersion, decodeServerError(t, rec).Code)
	}
}

func TestServerRejectsUnknownTransport(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"carrierpigeon"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorUnknownTransport, decodeServerError(t, rec).Code)
}

func TestServerRejectsUnknownSID(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}, "sid": {"nope"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorUnknownSID, decodeServerError(t, rec).Code)
}

func TestServerRejectsBadHandshakeMethod(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/engine.io/?EIO=4&transport=polling", strings.NewReader("4hi"))
	s.ServeHTTP(rec, r)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorBadHandshakeMethod, decodeServerError(t, rec).Code)
}

func TestServerAuthenticatorRejects(t *testing.T) {
	s := newTestServer(nil, &ServerConfig{
		Authenticator: func(w http.ResponseWriter, r *http.Request) bool { return false },
	})
	defer s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorForbidden, decodeServerError(t, rec).Code)
	assert.Equal(t, 0, s.SessionCount())
}

func TestServerDeliversClientData(t *testing.T) {
	received := make(chan string, 1)
	s := newTestServer(func(session *Session) *Callbacks {
		return &Callbacks{
			OnPacket: func(packets ...*frame.Packet) {
				for _, p := range packets {
					if p.Type == frame.TypeMessage {
						received <- string(p.Data)
					}
				}
			},
		}
	}, nil)
	defer s.Close()

	open := doPollingHandshake(t, s)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(
		http.MethodPost,
		"/engine.io/?EIO=4&transport=polling&sid="+open.SID,
		strings.NewReader("4hello"),
	)
	s.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	select {
	case data := <-received:
		assert.Equal(t, "hello", data)
	case <-time.After(time.Second):
		t.Fatal("message did not reach the session callbacks")
	}
}

func TestServerPollDrainsSessionSends(t *testing.T) {
	sessions := make(chan *Session, 1)
	s := newTestServer(func(session *Session) *Callbacks {
		sessions <- session
		return nil
	}, nil)
	defer s.Close()

	open := doPollingHandshake(t, s)
	session := <-sessions

	p, err := frame.New(frame.TypeMessage, false, []byte("queued"))
	require.NoError(t, err)
	session.Send(p)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}, "sid": {open.SID}}))
	require.Equal(t, http.StatusOK, rec.Code)

	packets, err := frame.DecodePayload(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, frame.TypeMessage, packets[0].Type)
	assert.Equal(t, "queued", string(packets[0].Data))
}

func TestServerCloseDisconnectsSessions(t *testing.T) {
	closed := make(chan Reason, 1)
	s := newTestServer(func(session *Session) *Callbacks {
		return &Callbacks{
			OnClose: func(reason Reason, err error) { closed <- reason },
		}
	}, nil)

	doPollingHandshake(t, s)
	require.NoError(t, s.Close())

	select {
	case reason := <-closed:
		assert.Equal(t, ReasonForcedClose, reason)
	case <-time.After(time.Second):
		t.Fatal("session was not closed with the server")
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, handshakeRequest(url.Values{"transport": {"polling"}}))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestServerRunValidatesTimeouts(t *testing.T) {
	s := NewServer(nil, &ServerConfig{PingInterval: 10 * time.Millisecond})
	defer s.Close()
	assert.Error(t, s.Run())
}

func TestServerSIDsAreUnique(t *testing.T) {
	s := newTestServer(nil, nil)
	defer s.Close()

	seen := make(map[string]struct{})
	for i := 0; i < 8; i++ {
		open := doPollingHandshake(t, s)
		_, dup := seen[open.SID]
		require.False(t, dup, "duplicate sid handed out")
		seen[open.SID] = struct{}{}
	}
}

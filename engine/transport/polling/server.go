// Package polling implements the HTTP long-polling transport. A GET drains
// the queued packets as one batched payload; a POST delivers one payload of
// client frames. JSONP and base64-encoded binary are supported for legacy
// user agents.
package polling

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/engine/transport"
	"github.com/sionet/sionet/internal/sync"
)

type Conn struct {
	id uint64

	maxBufferSize int64
	pollTimeout   time.Duration

	pq *pollQueue

	// A long-poll cycle writes at most one response body. polling is the
	// guard against two overlapping GETs for the same connection.
	polling atomic.Bool

	callbacks *transport.Callbacks
	once      sync.Once
}

func NewConn(callbacks *transport.Callbacks, maxBufferSize int, pollTimeout time.Duration) *Conn {
	return &Conn{
		id:            transport.NextConnID(),
		maxBufferSize: int64(maxBufferSize),
		pollTimeout:   pollTimeout,
		pq:            newPollQueue(),
		callbacks:     callbacks,
	}
}

func (c *Conn) Name() string { return "polling" }

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Write(packets ...*frame.Packet) {
	c.pq.add(packets...)
}

// QueuedPackets drains the packets not yet picked up by a poll cycle.
// Used by the upgrade handoff.
func (c *Conn) QueuedPackets() []*frame.Packet {
	return c.pq.get()
}

// Handshake queues the OPEN packet and serves it on the handshake request
// itself, so the client gets the session id in the first response body.
func (c *Conn) Handshake(open *frame.Packet, w http.ResponseWriter, r *http.Request) error {
	if open != nil {
		c.Write(open)
	}
	c.ServeHTTP(w, r)
	return nil
}

func (c *Conn) PostHandshake() {
	// Polling has no connection loop; everything happens per request.
}

func (c *Conn) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handlePoll(w, r)
	case http.MethodPost:
		c.handleData(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (c *Conn) setHeaders(w http.ResponseWriter, r *http.Request) {
	userAgent := r.UserAgent()
	if strings.Contains(userAgent, ";MSIE") || strings.Contains(userAgent, "Trident/") {
		w.Header().Set("X-XSS-Protection", "0")
	}
}

func (c *Conn) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !c.polling.CompareAndSwap(false, true) {
		w.WriteHeader(http.StatusBadRequest)
		c.close(fmt.Errorf("polling: overlapping poll requests"))
		return
	}
	packets := c.pq.poll(c.pollTimeout)
	c.polling.Store(false)

	jsonp := r.URL.Query().Get("j")
	c.setHeaders(w, r)
	wh := w.Header()

	if jsonp == "" {
		body := frame.EncodePayload(packets...)
		wh.Set("Content-Type", "text/plain; charset=UTF-8")
		wh.Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			c.close(err)
		}
		return
	}

	body := strings.Builder{}
	body.WriteString("___eio[" + jsonp + `]("`)
	template.JSEscape(&body, frame.EncodePayload(packets...))
	body.WriteString(`");`)

	wh.Set("Content-Type", "text/javascript; charset=UTF-8")
	wh.Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body.String())); err != nil {
		c.close(err)
	}
}

var (
	slashReplacer = strings.NewReplacer("\\n", "\n", "\\\\n", "\\n")
	responseOK    = []byte("ok")
)

func (c *Conn) handleData(w http.ResponseWriter, r *http.Request) {
	if c.maxBufferSize > 0 && r.ContentLength > c.maxBufferSize {
		defer c.close(fmt.Errorf("polling: max buffer size exceeded"))
		w.WriteHeader(http.StatusBadRequest)
		r.Close = true
		r.Body.Close()
		return
	}

	var (
		body  []byte
		jsonp = r.URL.Query().Get("j")
		err   error
	)

	if jsonp == "" {
		body, err = readBody(r, c.maxBufferSize)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			c.close(err)
			return
		}
	} else {
		err = r.ParseForm()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			c.close(err)
			return
		}
		// JSONP bodies arrive escaped.
		body = []byte(slashReplacer.Replace(r.PostForm.Get("d")))
	}

	packets, err := frame.DecodePayload(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		c.close(err)
		return
	}

	c.callbacks.OnPacket(packets...)

	c.setHeaders(w, r)
	wh := w.Header()
	// text/html avoids an unwanted download dialog on certain user agents.
	wh.Set("Content-Type", "text/html")
	wh.Set("Content-Length", "2")
	w.WriteHeader(http.StatusOK)
	w.Write(responseOK)
}

// Discard silences the connection without firing the close callback, and
// forces one last poll cycle so a parked GET returns. Used after an upgrade.
func (c *Conn) Discard() {
	c.once.Do(func() {
		noop, err := frame.New(frame.TypeNoop, false, nil)
		if err == nil {
			go c.Write(noop)
		}
	})
}

func (c *Conn) close(err error) {
	c.once.Do(func() {
		defer c.callbacks.OnClose(c.id, err)

		p, err := frame.New(frame.TypeClose, false, nil)
		if err == nil {
			go c.Write(p)
		}
	})
}

func (c *Conn) Close() {
	c.close(nil)
}

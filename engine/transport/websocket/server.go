// Package websocket implements the WebSocket transport on top of
// nhooyr.io/websocket. One websocket message carries one Engine.IO frame;
// binary messages carry binary MESSAGE frames without the base64 wrapper.
package websocket

import (
	"context"
	"net/http"

	"github.com/sionet/sionet/engine/frame"
	"github.com/sionet/sionet/engine/transport"
	"github.com/sionet/sionet/internal/sync"

	"nhooyr.io/websocket"
)

type Conn struct {
	id uint64

	readLimit      int64
	supportsBinary bool
	acceptOptions  *websocket.AcceptOptions

	ctx  context.Context
	conn *websocket.Conn

	callbacks *transport.Callbacks
	once      sync.Once
}

func NewConn(callbacks *transport.Callbacks, readLimit int, supportsBinary bool, acceptOptions *websocket.AcceptOptions) *Conn {
	return &Conn{
		id:             transport.NextConnID(),
		readLimit:      int64(readLimit),
		supportsBinary: supportsBinary,
		acceptOptions:  acceptOptions,
		callbacks:      callbacks,
	}
}

func (c *Conn) Name() string { return "websocket" }

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Handshake(open *frame.Packet, w http.ResponseWriter, r *http.Request) (err error) {
	c.ctx = r.Context()
	c.conn, err = websocket.Accept(w, r, c.acceptOptions)
	if err != nil {
		return err
	}
	if c.readLimit != 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	if open != nil {
		err = c.write(open)
		if err != nil {
			c.close(err)
			return err
		}
	}
	return nil
}

// PostHandshake runs the read loop. It blocks until the connection dies,
// keeping the accepting request alive; the connection reads with that
// request's context.
func (c *Conn) PostHandshake() {
	for {
		packet, err := c.nextPacket()
		if err != nil {
			c.close(err)
			return
		}
		c.callbacks.OnPacket(packet)
	}
}

func (c *Conn) nextPacket() (*frame.Packet, error) {
	mt, r, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	return frame.Parse(r, mt == websocket.MessageBinary)
}

func (c *Conn) Write(packets ...*frame.Packet) {
	for _, p := range packets {
		if err := c.write(p); err != nil {
			// The write side failing implies the read loop is about
			// to fail as well; close once, report the first error.
			go c.close(err)
			return
		}
	}
}

func (c *Conn) write(p *frame.Packet) error {
	mt := websocket.MessageText
	if p.IsBinary && c.supportsBinary {
		mt = websocket.MessageBinary
	}
	return c.conn.Write(c.ctx, mt, p.Build(c.supportsBinary))
}

// QueuedPackets always returns nil: a websocket write goes straight to the
// wire, nothing stages inside the connection.
func (c *Conn) QueuedPackets() []*frame.Packet {
	return nil
}

func (c *Conn) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// After the handshake there is nothing to serve over HTTP.
	w.WriteHeader(http.StatusBadRequest)
}

func (c *Conn) Discard() {
	c.once.Do(func() {
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
}

var expectedCloseStatuses = []websocket.StatusCode{
	websocket.StatusNormalClosure,
	websocket.StatusGoingAway,
	websocket.StatusNoStatusRcvd,
	websocket.StatusAbnormalClosure,
}

func (c *Conn) close(err error) {
	c.once.Do(func() {
		status := websocket.CloseStatus(err)
		for _, expected := range expectedCloseStatuses {
			if status == expected {
				err = nil
				break
			}
		}

		defer c.callbacks.OnClose(c.id, err)

		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
}

func (c *Conn) Close() {
	c.close(nil)
}

// Package frame implements the Engine.IO wire framing: the outer packet
// types, single-packet encoding, and the payload batching used by the
// polling transport.
package frame

import (
	"encoding/base64"
	"fmt"
)

type Type byte

const (
	TypeOpen Type = iota
	TypeClose
	TypePing
	TypePong
	TypeMessage
	TypeUpgrade
	TypeNoop

	typeMax = TypeNoop
)

func (t Type) ToChar() byte {
	return byte(t) + '0'
}

func (t *Type) FromChar(b byte) error {
	if b < '0' || b > byte('0'+typeMax) {
		return ErrInvalidType
	}
	*t = Type(b - '0')
	return nil
}

func (t Type) String() string {
	switch t {
	case TypeOpen:
		return "open"
	case TypeClose:
		return "close"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeMessage:
		return "message"
	case TypeUpgrade:
		return "upgrade"
	case TypeNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// base64Prefix marks a binary MESSAGE sent over a text-only transport.
const base64Prefix byte = 'b'

var (
	ErrEmptyPacket = fmt.Errorf("frame: empty packet")
	ErrInvalidType = fmt.Errorf("frame: invalid packet type")
)

// Packet is one Engine.IO frame. Data of a MESSAGE frame is the inner
// Socket.IO packet; for all other types it is an optional text payload
// (e.g. "probe" on PING/PONG during upgrade).
type Packet struct {
	Type     Type
	IsBinary bool
	Data     []byte
}

func New(t Type, isBinary bool, data []byte) (*Packet, error) {
	// Only MESSAGE frames may carry binary data.
	if isBinary && t != TypeMessage {
		return nil, ErrInvalidType
	}
	return &Packet{Type: t, IsBinary: isBinary, Data: data}, nil
}

// Parse decodes one frame. binary tells whether the frame arrived on a
// binary channel (a WebSocket binary message); such frames have no leading
// type digit and are always MESSAGE.
func Parse(data []byte, binary bool) (*Packet, error) {
	if binary {
		return &Packet{Type: TypeMessage, IsBinary: true, Data: data}, nil
	}

	if len(data) < 1 {
		return nil, ErrEmptyPacket
	}

	p := new(Packet)

	if data[0] == base64Prefix {
		p.Type = TypeMessage
		p.IsBinary = true

		data = data[1:]
		p.Data = make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(p.Data, data)
		p.Data = p.Data[:n]
		return p, err
	}

	err := p.Type.FromChar(data[0])
	p.Data = data[1:]
	return p, err
}

// Build encodes the frame for a transport. A binary frame on a transport
// without binary support is base64-encoded with the 'b' prefix.
func (p *Packet) Build(supportsBinary bool) []byte {
	if p.IsBinary {
		if supportsBinary {
			return p.Data
		}
		b := make([]byte, 1+base64.StdEncoding.EncodedLen(len(p.Data)))
		b[0] = base64Prefix
		base64.StdEncoding.Encode(b[1:], p.Data)
		return b
	}

	b := make([]byte, 1+len(p.Data))
	b[0] = p.Type.ToChar()
	copy(b[1:], p.Data)
	return b
}

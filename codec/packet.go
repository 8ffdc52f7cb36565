// Package codec implements the Socket.IO packet layer: the inner subtype
// framing carried inside Engine.IO MESSAGE frames, with namespaces, ack ids
// and binary attachments.
package codec

import "fmt"

const ProtocolVersion = 5

type Type byte

const (
	TypeConnect Type = iota
	TypeDisconnect
	TypeEvent
	TypeAck
	TypeConnectError
	TypeBinaryEvent
	TypeBinaryAck

	typeMax = TypeBinaryAck
)

var ErrInvalidType = fmt.Errorf("codec: invalid packet type")

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
	case TypeConnect:
		return "connect"
	case TypeDisconnect:
		return "disconnect"
	case TypeEvent:
		return "event"
	case TypeAck:
		return "ack"
	case TypeConnectError:
		return "connect_error"
	case TypeBinaryEvent:
		return "binary_event"
	case TypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}

func (t Type) IsBinary() bool {
	return t == TypeBinaryEvent || t == TypeBinaryAck
}

func (t Type) IsEvent() bool {
	return t == TypeEvent || t == TypeBinaryEvent
}

func (t Type) IsAck() bool {
	return t == TypeAck || t == TypeBinaryAck
}

// Packet is one decoded Socket.IO packet. Data stays raw until the caller
// materializes it with Decoder.DecodeArgs or Decoder.DecodePayload.
//
// A binary packet is complete only once all declared attachments arrived;
// until then it must not be dispatched.
type Packet struct {
	Type      Type
	Namespace string
	AckID     *uint64

	// Event name. Set on EVENT/BINARY_EVENT only; extracted from the
	// payload during decode without materializing the arguments.
	Name string

	// Raw payload. For events this is the full [name, ...args] array.
	Data []byte

	// Binary attachment buffers, in declaration order.
	Attachments [][]byte

	remaining int
}

// Complete reports whether all declared attachments arrived.
func (p *Packet) Complete() bool {
	return p.remaining == 0
}

func (p *Packet) addAttachment(buf []byte) (complete bool) {
	p.Attachments = append(p.Attachments, buf)
	p.remaining--
	return p.remaining == 0
}

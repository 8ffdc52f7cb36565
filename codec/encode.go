package codec

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/sionet/sionet/codec/serializer"
)

type EncoderConfig struct {
	// Serializer for payload serialization. nil means the default
	// JSON serializer.
	Serializer serializer.Serializer

	// Maximum number of binary attachments to send per packet.
	// 0 means no limit.
	MaxAttachments int
}

// Encoder encodes Socket.IO packets. Stateless per call; a single Encoder
// can serve all sessions.
type Encoder struct {
	serializer     serializer.Serializer
	maxAttachments int
}

func NewEncoder(config EncoderConfig) *Encoder {
	if config.Serializer == nil {
		config.Serializer = serializer.NewStd()
	}
	return &Encoder{
		serializer:     config.Serializer,
		maxAttachments: config.MaxAttachments,
	}
}

// Encode builds the wire form of a packet. The first returned buffer is the
// text frame; any further buffers are raw binary attachment frames to be
// sent right after it, in order.
//
// For events args must not include the name; it is taken from p.Name. When
// args contain binary attachments the packet type is switched to its binary
// counterpart and p is updated accordingly.
func (e *Encoder) Encode(p *Packet, args ...any) (buffers [][]byte, err error) {
	var body any

	switch {
	case p.Type.IsEvent():
		if p.Name == "" {
			return nil, fmt.Errorf("codec: event packet without a name")
		}
		body = append([]any{p.Name}, args...)
	case p.Type.IsAck():
		if p.AckID == nil {
			return nil, fmt.Errorf("codec: ack packet without an id")
		}
		if args == nil {
			args = []any{}
		}
		body = args
	default:
		// CONNECT, DISCONNECT, CONNECT_ERROR carry at most one value.
		switch len(args) {
		case 0:
			body = nil
		case 1:
			body = args[0]
		default:
			return nil, errArgumentCount
		}
	}

	var attachments [][]byte
	if (p.Type.IsEvent() || p.Type.IsAck()) && hasBinary(args) {
		switch p.Type {
		case TypeEvent:
			p.Type = TypeBinaryEvent
		case TypeAck:
			p.Type = TypeBinaryAck
		}
	}
	if p.Type.IsBinary() {
		attachments, err = deconstruct(body)
		if err != nil {
			return nil, err
		}
		if e.maxAttachments > 0 && len(attachments) > e.maxAttachments {
			return nil, errMaxAttachmentsExceeded
		}
	}

	head, err := e.encodeHead(p, len(attachments), body)
	if err != nil {
		return nil, err
	}

	p.Attachments = attachments
	buffers = append([][]byte{head}, attachments...)
	return buffers, nil
}

func (e *Encoder) encodeHead(p *Packet, attachments int, body any) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Grow(1 + 2 + len(p.Namespace) + 20)

	buf.WriteByte(p.Type.ToChar())

	if p.Type.IsBinary() {
		buf.WriteString(strconv.Itoa(attachments))
		buf.WriteByte('-')
	}

	if p.Namespace != "" && p.Namespace != "/" {
		buf.WriteString(p.Namespace)
		buf.WriteByte(',')
	}

	if p.AckID != nil {
		buf.WriteString(strconv.FormatUint(*p.AckID, 10))
	}

	if body != nil {
		data, err := e.serializer.Marshal(body)
		if err != nil {
			return nil, err
		}
		p.Data = data
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

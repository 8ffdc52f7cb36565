package codec

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/mitchellh/mapstructure"
	"github.com/sionet/sionet/codec/serializer"
	"github.com/sionet/sionet/internal/json"
)

var (
	ErrEmptyPacket     = fmt.Errorf("codec: empty packet")
	ErrMalformedPacket = fmt.Errorf("codec: malformed packet")

	errMaxAttachmentsExceeded = fmt.Errorf("codec: maximum number of attachments exceeded")
	errArgumentCount          = fmt.Errorf("codec: invalid number of arguments")
)

// AckPeeker is consulted during decode of ACK/BINARY_ACK packets. When the
// ack id has no pending entry, the payload is dropped: replies to unknown or
// expired acks are not delivered anywhere. The peek must not consume the
// entry.
type AckPeeker interface {
	HasAck(ackID uint64) bool
}

type DecoderConfig struct {
	// Serializer for payload materialization. nil means the default
	// JSON serializer.
	Serializer serializer.Serializer

	// Optional. See AckPeeker.
	Acks AckPeeker

	// Maximum number of binary attachments to accept per packet.
	// 0 means no limit.
	MaxAttachments int
}

// Decoder decodes the Socket.IO packets of one session. It is stateful: a
// BINARY_EVENT/BINARY_ACK stays pending inside the decoder until its
// attachment frames arrive. At most one binary packet can be pending, since
// attachments arrive strictly after their owning frame.
//
// A Decoder must not be shared between sessions.
type Decoder struct {
	serializer     serializer.Serializer
	acks           AckPeeker
	maxAttachments int

	pending *Packet
}

func NewDecoder(config DecoderConfig) *Decoder {
	if config.Serializer == nil {
		config.Serializer = serializer.NewStd()
	}
	return &Decoder{
		serializer:     config.Serializer,
		acks:           config.Acks,
		maxAttachments: config.MaxAttachments,
	}
}

// Decode parses one text frame into a Packet. For binary subtypes the
// returned packet is incomplete (Complete() == false) until the declared
// number of attachment frames has been fed to AddAttachment.
func (d *Decoder) Decode(data []byte) (*Packet, error) {
	// A new text frame while attachments are still owed means the peer
	// violated the framing. The half-built packet is dropped.
	d.pending = nil

	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	p := new(Packet)
	err := p.Type.FromChar(data[0])
	if err != nil {
		return nil, err
	}
	data = data[1:]

	if p.Type.IsBinary() {
		i := bytes.IndexByte(data, '-')
		if i < 1 {
			return nil, ErrMalformedPacket
		}
		attachments, err := strconv.ParseUint(string(data[:i]), 10, 0)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		if d.maxAttachments > 0 && int(attachments) > d.maxAttachments {
			return nil, errMaxAttachmentsExceeded
		}
		p.remaining = int(attachments)
		data = data[i+1:]
	}

	if len(data) >= 1 && data[0] == '/' {
		i := bytes.IndexByte(data, ',')
		if i == -1 {
			p.Namespace = string(data)
			data = nil
		} else {
			p.Namespace = string(data[:i])
			data = data[i+1:]
		}
	} else {
		p.Namespace = "/"
	}

	// A leading decimal digit run is the ack id. It cannot be confused
	// with the payload: a payload starts with a JSON value, never with
	// a bare digit. A run that reaches the end of the packet has no
	// payload to hand over and is malformed.
	if len(data) >= 1 && data[0] >= '0' && data[0] <= '9' {
		i := 1
		for i < len(data) && data[i] >= '0' && data[i] <= '9' {
			i++
		}
		if i == len(data) {
			return nil, ErrMalformedPacket
		}
		id, err := strconv.ParseUint(string(data[:i]), 10, 63)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		p.AckID = &id
		data = data[i:]
	}

	if len(data) > 0 {
		p.Data = data
	}

	if p.Type.IsEvent() {
		name, err := d.extractEventName(p.Data)
		if err != nil {
			return nil, err
		}
		p.Name = name
	}

	if p.Type.IsAck() {
		if p.AckID == nil {
			return nil, ErrMalformedPacket
		}
		if d.acks != nil && !d.acks.HasAck(*p.AckID) {
			p.Data = nil
		}
	}

	if !p.Complete() {
		d.pending = p
	}
	return p, nil
}

// AddAttachment feeds one raw binary frame to the pending binary packet.
// It returns the packet and true once the packet became complete. Frames
// arriving without a pending packet are dropped.
func (d *Decoder) AddAttachment(buf []byte) (p *Packet, complete bool) {
	if d.pending == nil {
		return nil, false
	}
	if d.pending.addAttachment(buf) {
		p = d.pending
		d.pending = nil
		return p, true
	}
	return nil, false
}

// Pending returns the binary packet still waiting for attachments, if any.
func (d *Decoder) Pending() *Packet {
	return d.pending
}

// Reset drops any half-built binary packet.
func (d *Decoder) Reset() {
	d.pending = nil
}

// The event name is the first element of the payload array. With a JSON
// serializer it is peeked without materializing the arguments; otherwise
// the whole array is decoded once.
func (d *Decoder) extractEventName(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrMalformedPacket
	}

	name, err := jsonparser.GetString(payload, "[0]")
	if err == nil {
		return name, nil
	}

	var elems []any
	if err := d.serializer.Unmarshal(payload, &elems); err == nil && len(elems) > 0 {
		if s, ok := elems[0].(string); ok {
			return s, nil
		}
	}
	return "", ErrMalformedPacket
}

// DecodeArgs materializes the packet's arguments into targets, which must be
// pointers. For events the leading name element is skipped. Binary
// placeholders are replaced with the packet's attachments; the packet must
// be complete.
func (d *Decoder) DecodeArgs(p *Packet, targets ...any) error {
	if !p.Complete() {
		return fmt.Errorf("codec: packet is incomplete: %d attachment(s) missing", p.remaining)
	}

	if len(p.Data) == 0 {
		if len(targets) == 0 {
			return nil
		}
		return errArgumentCount
	}

	var elems []json.RawMessage
	if err := d.serializer.Unmarshal(p.Data, &elems); err != nil {
		return d.decodeArgsLoose(p, targets...)
	}

	if p.Type.IsEvent() {
		if len(elems) == 0 {
			return ErrMalformedPacket
		}
		elems = elems[1:]
	}
	if len(targets) > len(elems) {
		return errArgumentCount
	}

	for i, target := range targets {
		if err := d.serializer.Unmarshal(elems[i], target); err != nil {
			return err
		}
	}

	if len(p.Attachments) > 0 {
		return reconstructValues(p.Attachments, targets...)
	}
	return nil
}

// Fallback for serializers whose raw payload is not JSON (e.g. msgpack):
// decode the array loosely, then map each element onto its target.
func (d *Decoder) decodeArgsLoose(p *Packet, targets ...any) error {
	var elems []any
	if err := d.serializer.Unmarshal(p.Data, &elems); err != nil {
		return err
	}

	if p.Type.IsEvent() {
		if len(elems) == 0 {
			return ErrMalformedPacket
		}
		elems = elems[1:]
	}
	if len(targets) > len(elems) {
		return errArgumentCount
	}

	for i, target := range targets {
		if err := mapstructure.Decode(elems[i], target); err != nil {
			return err
		}
	}

	if len(p.Attachments) > 0 {
		return reconstructValues(p.Attachments, targets...)
	}
	return nil
}

// DecodePayload materializes the whole payload into v. Used for CONNECT
// auth data and CONNECT_ERROR bodies, which carry a single value rather
// than an argument array.
func (d *Decoder) DecodePayload(p *Packet, v any) error {
	if len(p.Data) == 0 {
		return nil
	}
	return d.serializer.Unmarshal(p.Data, v)
}

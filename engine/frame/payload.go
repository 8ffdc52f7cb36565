package frame

import (
	"bytes"
	"fmt"
	"strconv"
)

// recordSeparator joins frames in one polling payload (protocol v4).
const recordSeparator byte = 0x1e

var errBadLengthPrefix = fmt.Errorf("frame: malformed length-prefixed payload")

// EncodePayload batches frames for one polling response, separated by the
// record separator. Binary frames are base64-encoded since the payload
// travels as text.
func EncodePayload(packets ...*Packet) []byte {
	l := 0
	for i, p := range packets {
		l += 1 + len(p.Data)
		if i != len(packets)-1 {
			l++
		}
	}

	b := make([]byte, 0, l)
	for i, p := range packets {
		b = append(b, p.Build(false)...)
		if i != len(packets)-1 {
			b = append(b, recordSeparator)
		}
	}
	return b
}

// DecodePayload splits one polling body into frames. Both framings are
// accepted: the v4 record-separator framing and the v3 "<length>:<frame>"
// length-prefixed framing, detected by a digit run ending in ':' before
// anything else.
func DecodePayload(b []byte) ([]*Packet, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPacket
	}

	if isLengthPrefixed(b) {
		return decodeLengthPrefixed(b)
	}

	parts := bytes.Split(b, []byte{recordSeparator})
	packets := make([]*Packet, 0, len(parts))
	for _, part := range parts {
		p, err := Parse(part, false)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func isLengthPrefixed(b []byte) bool {
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] >= '0' && b[i] <= '9':
			continue
		case b[i] == ':':
			return i > 0
		default:
			return false
		}
	}
	return false
}

func decodeLengthPrefixed(b []byte) ([]*Packet, error) {
	var packets []*Packet
	for len(b) > 0 {
		i := bytes.IndexByte(b, ':')
		if i < 1 {
			return nil, errBadLengthPrefix
		}

		n, err := strconv.Atoi(string(b[:i]))
		if err != nil || n < 0 {
			return nil, errBadLengthPrefix
		}

		b = b[i+1:]
		if n > len(b) {
			return nil, errBadLengthPrefix
		}

		p, err := Parse(b[:n], false)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
		b = b[n:]
	}
	return packets, nil
}

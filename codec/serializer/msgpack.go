package serializer

import "github.com/vmihailenco/msgpack/v5"

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackSerializer) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// NewMsgpack returns a MessagePack-backed serializer. Both peers must agree
// on it; the packets it produces are not interoperable with JSON clients.
func NewMsgpack() Serializer {
	return msgpackSerializer{}
}

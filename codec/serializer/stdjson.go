package serializer

import "github.com/sionet/sionet/internal/json"

type stdSerializer struct{}

func (stdSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (stdSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewStd returns the default serializer, backed by encoding/json
// (json-iterator under the jsoniter build tag).
func NewStd() Serializer {
	return stdSerializer{}
}

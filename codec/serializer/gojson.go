package serializer

import "github.com/goccy/go-json"

type goJSONSerializer struct {
	encodeOptions []json.EncodeOptionFunc
	decodeOptions []json.DecodeOptionFunc
}

func (s *goJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.MarshalWithOption(v, s.encodeOptions...)
}

func (s *goJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.UnmarshalWithOption(data, v, s.decodeOptions...)
}

func NewGoJSON(encodeOptions []json.EncodeOptionFunc, decodeOptions []json.DecodeOptionFunc) Serializer {
	return &goJSONSerializer{
		encodeOptions: encodeOptions,
		decodeOptions: decodeOptions,
	}
}

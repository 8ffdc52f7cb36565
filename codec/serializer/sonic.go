//go:build amd64 && (linux || windows || darwin)

package serializer

import "github.com/bytedance/sonic"

type Config = sonic.Config

type sonicSerializer struct {
	api sonic.API
}

func (s *sonicSerializer) Marshal(v any) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s *sonicSerializer) Unmarshal(data []byte, v any) error {
	return s.api.Unmarshal(data, v)
}

func NewSonic(config sonic.Config) Serializer {
	return &sonicSerializer{api: config.Froze()}
}

// NewFast returns the fastest serializer available for the platform.
func NewFast() Serializer {
	return NewSonic(sonic.Config{})
}

//go:build !(amd64 && (linux || windows || darwin))

package serializer

// NewFast returns the fastest serializer available for the platform.
// sonic is amd64-only; elsewhere go-json is used.
func NewFast() Serializer {
	return NewGoJSON(nil, nil)
}

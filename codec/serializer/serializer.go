// Package serializer contains the pluggable payload serializers used by the
// packet codec. The wire framing stays untouched; only the payload section
// of a packet goes through a Serializer.
package serializer

type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

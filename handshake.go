package sionet

import (
	"github.com/sionet/sionet/codec"
)

// Handshake is the CONNECT packet of a namespace, as seen by connect
// middlewares.
type Handshake struct {
	packet  *codec.Packet
	decoder *codec.Decoder
}

// Auth decodes the authentication payload the client attached to its
// CONNECT packet into v. A CONNECT without a payload leaves v untouched.
func (h *Handshake) Auth(v any) error {
	return h.decoder.DecodePayload(h.packet, v)
}

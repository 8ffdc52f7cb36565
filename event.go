package sionet

import (
	"fmt"

	"github.com/sionet/sionet/codec"
)

// Event is one inbound event or acknowledgment. The payload stays in its
// wire form until Args materializes it into caller-typed values.
type Event struct {
	packet  *codec.Packet
	decoder *codec.Decoder
	sender  *ackSender
}

func (e *Event) Name() string { return e.packet.Name }

// Args decodes the event arguments into targets, which must be pointers.
// Binary attachments land in codec.Binary targets (or as []byte inside
// loosely-typed trees).
func (e *Event) Args(targets ...any) error {
	return e.decoder.DecodeArgs(e.packet, targets...)
}

// NeedsAck reports whether the emitter attached an ack id.
func (e *Event) NeedsAck() bool {
	return e.sender != nil && e.packet.AckID != nil
}

// Ack replies to the event's ack id. Only the first reply is sent; in AUTO
// mode an event left unacknowledged by its handlers is acknowledged with no
// arguments after they return.
func (e *Event) Ack(args ...any) error {
	if !e.NeedsAck() {
		return fmt.Errorf("sionet: event carries no ack id")
	}
	return e.sender.Send(*e.packet.AckID, args...)
}

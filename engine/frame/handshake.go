package frame

import (
	"fmt"
	"time"

	"github.com/sionet/sionet/internal/json"
)

// OpenData is the JSON payload of the OPEN frame sent right after a
// successful handshake.
type OpenData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

func (o *OpenData) GetPingInterval() time.Duration {
	return time.Duration(o.PingInterval) * time.Millisecond
}

func (o *OpenData) GetPingTimeout() time.Duration {
	return time.Duration(o.PingTimeout) * time.Millisecond
}

func NewOpenPacket(o *OpenData) (*Packet, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return New(TypeOpen, false, data)
}

func ParseOpen(p *Packet) (*OpenData, error) {
	if p.Type != TypeOpen {
		return nil, fmt.Errorf("frame: packet with a type of OPEN was expected")
	}
	o := new(OpenData)
	err := json.Unmarshal(p.Data, o)
	if err != nil {
		return nil, err
	}
	return o, nil
}

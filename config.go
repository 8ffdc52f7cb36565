package sionet

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"nhooyr.io/websocket"

	"github.com/sionet/sionet/codec/serializer"
	"github.com/sionet/sionet/engine"
)

type Config struct {
	// Middleware to authenticate clients before the Engine.IO handshake.
	Authenticator engine.AuthFunc

	// Heartbeat. Zero values take the protocol defaults (25s/20s).
	PingInterval time.Duration
	PingTimeout  time.Duration

	// How long an upgrade probe may stay incomplete.
	UpgradeTimeout time.Duration

	// A session that sends nothing within this window after the
	// handshake is reaped. Zero disables the check.
	FirstDataTimeout time.Duration

	// MaxBufferSize caps inbound HTTP bodies and websocket messages.
	MaxBufferSize        int
	DisableMaxBufferSize bool

	// Maximum number of binary attachments per packet. 0 means no limit.
	MaxAttachments int

	// How long to wait for an event acknowledgment before failing the
	// handler with ErrAckTimeout. 0 disables the timeout: pending acks
	// then live until the session disconnects.
	AckTimeout time.Duration

	// Who acknowledges inbound events carrying an ack id.
	AckMode AckMode

	// Payload serializer. nil means encoding/json.
	Serializer serializer.Serializer

	// Room registry backend. nil means the in-memory adapter.
	AdapterCreator AdapterCreator

	// Custom WebSocket options to use.
	WebSocketAcceptOptions *websocket.AcceptOptions

	// Callback for server errors. You may use this to log them.
	OnError func(err error)

	// For debugging purposes. Leave it nil if it is of no use.
	Debugger engine.Debugger
}

// fileConfig is the TOML shape of a Config. Durations use Go syntax
// ("25s", "1m30s").
type fileConfig struct {
	PingInterval     tomlDuration `toml:"ping_interval"`
	PingTimeout      tomlDuration `toml:"ping_timeout"`
	UpgradeTimeout   tomlDuration `toml:"upgrade_timeout"`
	FirstDataTimeout tomlDuration `toml:"first_data_timeout"`
	AckTimeout       tomlDuration `toml:"ack_timeout"`

	MaxBufferSize  int `toml:"max_buffer_size"`
	MaxAttachments int `toml:"max_attachments"`

	AckMode    string `toml:"ack_mode"`
	Serializer string `toml:"serializer"`
}

type tomlDuration time.Duration

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = tomlDuration(parsed)
	return nil
}

// LoadConfig reads a Config from a TOML file. Programmatic fields
// (callbacks, adapter, websocket options) stay zero and are set on the
// returned value by the caller.
func LoadConfig(path string) (*Config, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("sionet: config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("sionet: config: unknown key: %s", undecoded[0])
	}

	config := &Config{
		PingInterval:     time.Duration(fc.PingInterval),
		PingTimeout:      time.Duration(fc.PingTimeout),
		UpgradeTimeout:   time.Duration(fc.UpgradeTimeout),
		FirstDataTimeout: time.Duration(fc.FirstDataTimeout),
		AckTimeout:       time.Duration(fc.AckTimeout),
		MaxBufferSize:    fc.MaxBufferSize,
		MaxAttachments:   fc.MaxAttachments,
	}

	switch fc.AckMode {
	case "", "auto":
		config.AckMode = AckModeAuto
	case "manual":
		config.AckMode = AckModeManual
	default:
		return nil, fmt.Errorf("sionet: config: unknown ack_mode: %q", fc.AckMode)
	}

	switch fc.Serializer {
	case "", "json":
		config.Serializer = serializer.NewStd()
	case "gojson":
		config.Serializer = serializer.NewGoJSON(nil, nil)
	case "fast":
		config.Serializer = serializer.NewFast()
	case "msgpack":
		config.Serializer = serializer.NewMsgpack()
	default:
		return nil, fmt.Errorf("sionet: config: unknown serializer: %q", fc.Serializer)
	}

	return config, nil
}

package sionet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sionet.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
ping_interval = "10s"
ping_timeout = "5s"
upgrade_timeout = "3s"
first_data_timeout = "1m"
ack_timeout = "1500ms"
max_buffer_size = 65536
max_attachments = 16
ack_mode = "manual"
serializer = "msgpack"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, config.PingInterval)
	assert.Equal(t, 5*time.Second, config.PingTimeout)
	assert.Equal(t, 3*time.Second, config.UpgradeTimeout)
	assert.Equal(t, time.Minute, config.FirstDataTimeout)
	assert.Equal(t, 1500*time.Millisecond, config.AckTimeout)
	assert.Equal(t, 65536, config.MaxBufferSize)
	assert.Equal(t, 16, config.MaxAttachments)
	assert.Equal(t, AckModeManual, config.AckMode)
	assert.NotNil(t, config.Serializer)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Zero(t, config.PingInterval)
	assert.Equal(t, AckModeAuto, config.AckMode)
	assert.NotNil(t, config.Serializer)
	assert.Zero(t, config.AckTimeout)
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	path := writeConfigFile(t, `pingg_interval = "10s"`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for _, content := range []string{
		`ack_mode = "sometimes"`,
		`serializer = "xml"`,
		`ping_interval = "soon"`,
	} {
		path := writeConfigFile(t, content)
		_, err := LoadConfig(path)
		assert.Error(t, err, "content: %s", content)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "zmq", cfg.Transport.Kind)
	assert.Equal(t, 51810, cfg.Transport.DataPort)
	assert.Equal(t, 51811, cfg.Transport.CommandPort)
	assert.True(t, cfg.Transport.EnableCommands)
	assert.False(t, cfg.Transport.EnableEncryption)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.PublishInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.License.CheckInterval)
	assert.Equal(t, 60*time.Second, cfg.License.RenewMargin)
	assert.Equal(t, 10*time.Second, cfg.License.Timeout)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yml := `
license:
  key: FILE-KEY-0001
  check_interval: 10m
transport:
  kind: ws
  data_port: 6000
  command_port: 6001
engine:
  publish_interval: 250ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))
	t.Setenv("HEDGE_LICENSE_KEY", "ENV-KEY-0002")
	t.Setenv("HEDGE_PLATFORM_ACCOUNT_ID", "123456")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "ENV-KEY-0002", cfg.License.Key)
	assert.Equal(t, "123456", cfg.Platform.AccountID)
	assert.Equal(t, 10*time.Minute, cfg.License.CheckInterval)
	assert.Equal(t, "ws", cfg.Transport.Kind)
	assert.Equal(t, 6000, cfg.Transport.DataPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PublishInterval)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			License:   License{CheckInterval: time.Minute},
			Platform:  Platform{Kind: "sim"},
			Transport: Transport{Kind: "zmq", DataPort: 1, CommandPort: 2, EnableCommands: true},
			Engine:    Engine{PollInterval: time.Millisecond, PublishInterval: time.Millisecond, HeartbeatInterval: time.Second},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("SamePorts", func(t *testing.T) {
		cfg := base()
		cfg.Transport.CommandPort = 1
		assert.ErrorContains(t, cfg.Validate(), "must differ")
	})

	t.Run("SamePortsCommandsDisabled", func(t *testing.T) {
		cfg := base()
		cfg.Transport.CommandPort = 1
		cfg.Transport.EnableCommands = false
		assert.NoError(t, cfg.Validate())
	})

	t.Run("UnknownTransport", func(t *testing.T) {
		cfg := base()
		cfg.Transport.Kind = "carrier-pigeon"
		assert.ErrorContains(t, cfg.Validate(), "unknown transport kind")
	})

	t.Run("FileTransportIgnoresPorts", func(t *testing.T) {
		cfg := base()
		cfg.Transport = Transport{Kind: "file"}
		assert.NoError(t, cfg.Validate())
	})
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/W4ashabii/meshapp/limits"
	"github.com/W4ashabii/meshapp/transport"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("/tmp/mesh")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint8(limits.DefaultTTL), cfg.Mesh.TTL)
	assert.Equal(t, 24*time.Hour, cfg.PacketLifetime())
	assert.Equal(t, transport.Balanced, cfg.BatteryMode())
}

func TestRoundTrip(t *testing.T) {
	cfg := Default("/tmp/mesh")
	cfg.Mesh.TTL = 3
	cfg.Battery.Mode = "power_saving"
	cfg.Mesh.PacketLifetime = duration{90 * time.Minute}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cfg))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.Mesh.TTL)
	assert.Equal(t, 90*time.Minute, got.PacketLifetime())
	assert.Equal(t, transport.PowerSaving, got.BatteryMode())
}

func TestReadParsesHandWrittenFile(t *testing.T) {
	raw := `
data_dir = "/var/lib/mesh"
log_level = "debug"

[mesh]
ttl = 5
packet_lifetime = "12h"

[battery]
mode = "performance"
`
	cfg, err := Read(strings.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/var/lib/mesh", cfg.DataDir)
	assert.Equal(t, uint8(5), cfg.Mesh.TTL)
	assert.Equal(t, 12*time.Hour, cfg.PacketLifetime())
	assert.Equal(t, transport.Performance, cfg.BatteryMode())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty data dir": func(c *Config) { c.DataDir = "" },
		"zero ttl":       func(c *Config) { c.Mesh.TTL = 0 },
		"excessive ttl":  func(c *Config) { c.Mesh.TTL = limits.MaxTTL + 1 },
		"zero lifetime":  func(c *Config) { c.Mesh.PacketLifetime = duration{0} },
		"unknown mode":   func(c *Config) { c.Battery.Mode = "turbo" },
	}
	for name, mutate := range cases {
		cfg := Default("/tmp/mesh")
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, uint8(limits.DefaultTTL), cfg.Mesh.TTL)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err), "Load must not create the file")
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Battery.Mode = "power_saving"
	require.NoError(t, Save(cfg))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "power_saving", got.Battery.Mode)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[mesh]\nttl = 99\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

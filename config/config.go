// Package config loads and persists the device configuration as TOML.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/W4ashabii/meshapp/limits"
	"github.com/W4ashabii/meshapp/transport"
)

// FileName is the config file name inside the data directory.
const FileName = "config.toml"

// Config is the device configuration.
type Config struct {
	// DataDir holds the identity, contacts, and message database.
	DataDir string `toml:"data_dir"`
	// LogLevel is a logrus level name: "debug", "info", "warn", "error".
	LogLevel string        `toml:"log_level"`
	Mesh     MeshConfig    `toml:"mesh"`
	Battery  BatteryConfig `toml:"battery"`
}

// MeshConfig tunes packet relaying.
type MeshConfig struct {
	// TTL is the hop budget stamped on locally originated packets.
	TTL uint8 `toml:"ttl"`
	// PacketLifetime is how long relayed packets are held for
	// store-and-forward before expiring.
	PacketLifetime duration `toml:"packet_lifetime"`
}

// BatteryConfig selects the radio duty-cycle profile.
type BatteryConfig struct {
	// Mode is "performance", "balanced", or "power_saving".
	Mode string `toml:"mode"`
}

// duration wraps time.Duration for TOML round-tripping as a string
// like "24h" or "90s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration for a fresh install rooted at
// dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		Mesh: MeshConfig{
			TTL:            limits.DefaultTTL,
			PacketLifetime: duration{24 * time.Hour},
		},
		Battery: BatteryConfig{Mode: "balanced"},
	}
}

// BatteryMode maps the configured mode name onto a transport profile.
// Unknown names fall back to balanced.
func (c *Config) BatteryMode() transport.BatteryMode {
	switch c.Battery.Mode {
	case "performance":
		return transport.Performance
	case "power_saving":
		return transport.PowerSaving
	default:
		return transport.Balanced
	}
}

// PacketLifetime returns the configured store-and-forward lifetime.
func (c *Config) PacketLifetime() time.Duration {
	return c.Mesh.PacketLifetime.Duration
}

// Validate checks the configuration for values the mesh cannot run
// with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Mesh.TTL == 0 || c.Mesh.TTL > limits.MaxTTL {
		return fmt.Errorf("mesh.ttl must be between 1 and %d, got %d", limits.MaxTTL, c.Mesh.TTL)
	}
	if c.Mesh.PacketLifetime.Duration <= 0 {
		return fmt.Errorf("mesh.packet_lifetime must be positive")
	}
	switch c.Battery.Mode {
	case "performance", "balanced", "power_saving":
	default:
		return fmt.Errorf("battery.mode %q is not one of performance, balanced, power_saving", c.Battery.Mode)
	}
	return nil
}

// Read decodes a Config from the reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads and validates the config file under dataDir. A missing
// file yields the defaults without creating it.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(dataDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists the config under its data directory.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(cfg.DataDir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

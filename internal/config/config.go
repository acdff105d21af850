package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Pulse     PulseConfig     `yaml:"pulse"`
	PipeWire  PipeWireConfig  `yaml:"pipewire"`
	Rfkill    RfkillConfig    `yaml:"rfkill"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConns       int      `yaml:"max_connections"`
}

// BridgeConfig applies to every subsystem bridge.
type BridgeConfig struct {
	EventBuffer       int           `yaml:"event_buffer"`
	Backpressure      string        `yaml:"backpressure"`
	DropPolicy        string        `yaml:"drop_policy"`
	SuppressUnchanged bool          `yaml:"suppress_unchanged"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

type BroadcastConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	ClientBuffer     int           `yaml:"client_buffer"`
}

type PulseConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Pactl                string `yaml:"pactl"`
	RequireServerProcess bool   `yaml:"require_server_process"`
}

type PipeWireConfig struct {
	Enabled              bool   `yaml:"enabled"`
	PwDump               string `yaml:"pw_dump"`
	Wpctl                string `yaml:"wpctl"`
	RequireServerProcess bool   `yaml:"require_server_process"`
}

type RfkillConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SysfsDir string `yaml:"sysfs_dir"`
	Device   string `yaml:"device"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8090,
			Host:     "127.0.0.1",
			MaxConns: 32,
		},
		Bridge: BridgeConfig{
			EventBuffer:    256,
			Backpressure:   string(bridge.BackpressureBlock),
			DropPolicy:     string(bridge.DropSilent),
			BackoffInitial: time.Second,
			BackoffMax:     30 * time.Second,
		},
		Broadcast: BroadcastConfig{
			SnapshotInterval: 30 * time.Second,
			ClientBuffer:     64,
		},
		Pulse: PulseConfig{
			Enabled:              true,
			Pactl:                "pactl",
			RequireServerProcess: true,
		},
		PipeWire: PipeWireConfig{
			Enabled:              false,
			PwDump:               "pw-dump",
			Wpctl:                "wpctl",
			RequireServerProcess: true,
		},
		Rfkill: RfkillConfig{
			Enabled:  true,
			SysfsDir: "/sys/class/rfkill",
			Device:   "/dev/rfkill",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Bridge.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("bridge.event_buffer must be positive, got %d", c.Bridge.EventBuffer))
	}
	if !bridge.Backpressure(c.Bridge.Backpressure).Valid() {
		errs = append(errs, fmt.Errorf("bridge.backpressure: unknown policy %q", c.Bridge.Backpressure))
	}
	if !bridge.DropPolicy(c.Bridge.DropPolicy).Valid() {
		errs = append(errs, fmt.Errorf("bridge.drop_policy: unknown policy %q", c.Bridge.DropPolicy))
	}
	if c.Bridge.BackoffInitial <= 0 || c.Bridge.BackoffMax < c.Bridge.BackoffInitial {
		errs = append(errs, fmt.Errorf("bridge backoff must satisfy 0 < initial (%s) <= max (%s)",
			c.Bridge.BackoffInitial, c.Bridge.BackoffMax))
	}
	if c.Broadcast.ClientBuffer <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.client_buffer must be positive, got %d", c.Broadcast.ClientBuffer))
	}
	if c.Broadcast.SnapshotInterval < 0 {
		errs = append(errs, errors.New("broadcast.snapshot_interval must not be negative"))
	}
	if !c.Pulse.Enabled && !c.PipeWire.Enabled && !c.Rfkill.Enabled {
		errs = append(errs, errors.New("no subsystem enabled"))
	}
	return errors.Join(errs...)
}

// BridgeSettings converts the shared bridge section into bridge.Config
// fields. Subsystem, Driver and Logger are left for the caller.
func (c *Config) BridgeSettings() bridge.Config {
	return bridge.Config{
		EventBuffer:       c.Bridge.EventBuffer,
		Backpressure:      bridge.Backpressure(c.Bridge.Backpressure),
		DropPolicy:        bridge.DropPolicy(c.Bridge.DropPolicy),
		SuppressUnchanged: c.Bridge.SuppressUnchanged,
		Backoff:           bridge.ExponentialBackoff(c.Bridge.BackoffInitial, c.Bridge.BackoffMax),
	}
}

// GenerateToken returns a random 128-bit token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig describes the peripheral and its channels. UUID keys map to
// logical channel names.
type DeviceConfig struct {
	PeripheralName         string            `yaml:"peripheral_name"`
	Services               map[string]string `yaml:"services"`
	ReceiveChannels        map[string]string `yaml:"receive_channels"`
	TransmitChannels       map[string]string `yaml:"transmit_channels"`
	AutoConnectByProximity bool              `yaml:"auto_connect_by_proximity"`
	RSSIThreshold          int               `yaml:"rssi_threshold"`
	SelectedDeviceID       string            `yaml:"selected_device_id"`
}

// DiscoveryConfig holds discovery cache timings.
type DiscoveryConfig struct {
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn" or "error"
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wearlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config for a Monocle on its serial and data services.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			PeripheralName: "monocle",
			Services: map[string]string{
				"6e400001-b5a3-f393-e0a9-e50e24dcca9e": "serial",
				"e5700001-7bac-429a-b4ce-57ff900f479d": "data",
			},
			ReceiveChannels: map[string]string{
				"6e400003-b5a3-f393-e0a9-e50e24dcca9e": "serial-tx",
				"e5700003-7bac-429a-b4ce-57ff900f479d": "data-tx",
			},
			TransmitChannels: map[string]string{
				"6e400002-b5a3-f393-e0a9-e50e24dcca9e": "serial-rx",
				"e5700002-7bac-429a-b4ce-57ff900f479d": "data-rx",
			},
			AutoConnectByProximity: true,
			RSSIThreshold:          -70,
		},
		Discovery: DiscoveryConfig{
			Expiry:        10 * time.Second,
			SweepInterval: 5 * time.Second,
		},
		Events: EventsConfig{
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults; a channel or service table given in the file replaces the
// default table instead of merging into it. Tilde (~) in log.output is
// expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if overlay.Device.Services != nil {
		cfg.Device.Services = overlay.Device.Services
	}
	if overlay.Device.ReceiveChannels != nil {
		cfg.Device.ReceiveChannels = overlay.Device.ReceiveChannels
	}
	if overlay.Device.TransmitChannels != nil {
		cfg.Device.TransmitChannels = overlay.Device.TransmitChannels
	}

	cfg.Log.Output = expandTilde(cfg.Log.Output)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath, creating the
// directory if needed. It refuses to overwrite an existing file.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	header := []byte("# wearlink configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.PeripheralName == "" {
		return fmt.Errorf("device.peripheral_name must not be empty")
	}

	if len(c.Device.Services) == 0 {
		return fmt.Errorf("device.services must not be empty")
	}
	if err := validateTable("device.services", c.Device.Services); err != nil {
		return err
	}

	if len(c.Device.ReceiveChannels)+len(c.Device.TransmitChannels) == 0 {
		return fmt.Errorf("device.receive_channels and device.transmit_channels must not both be empty")
	}
	if err := validateTable("device.receive_channels", c.Device.ReceiveChannels); err != nil {
		return err
	}
	if err := validateTable("device.transmit_channels", c.Device.TransmitChannels); err != nil {
		return err
	}
	if err := validateChannelNames(c.Device.ReceiveChannels, c.Device.TransmitChannels); err != nil {
		return err
	}

	if c.Device.RSSIThreshold < -127 || c.Device.RSSIThreshold > 20 {
		return fmt.Errorf("device.rssi_threshold must be between -127 and 20 dBm, got %d", c.Device.RSSIThreshold)
	}

	if c.Discovery.Expiry <= 0 {
		return fmt.Errorf("discovery.expiry must be > 0")
	}
	if c.Discovery.SweepInterval <= 0 {
		return fmt.Errorf("discovery.sweep_interval must be > 0")
	}

	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("events.queue_size must be > 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	return nil
}

// ParseTable converts a UUID-keyed name table into parsed identifiers.
func ParseTable(table map[string]string) (map[uuid.UUID]string, error) {
	parsed := make(map[uuid.UUID]string, len(table))
	for key, name := range table {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", key, err)
		}
		parsed[id] = name
	}
	return parsed, nil
}

func validateTable(field string, table map[string]string) error {
	parsed, err := ParseTable(table)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if len(parsed) != len(table) {
		return fmt.Errorf("%s: duplicate UUID after normalization", field)
	}
	for key, name := range table {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s: name for %s must not be empty", field, key)
		}
	}
	return nil
}

// validateChannelNames rejects a name that refers to two different
// characteristics. The same UUID may appear in both tables.
func validateChannelNames(receive, transmit map[string]string) error {
	owner := make(map[string]uuid.UUID)
	for _, table := range []map[string]string{receive, transmit} {
		parsed, err := ParseTable(table)
		if err != nil {
			return err
		}
		for id, name := range parsed {
			if prev, ok := owner[name]; ok && prev != id {
				return fmt.Errorf("channel name %q is used by both %s and %s", name, prev, id)
			}
			owner[name] = id
		}
	}
	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

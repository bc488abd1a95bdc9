// Package config loads the process-wide YAML configuration file: broker
// connectivity, node identity, and the ambient tcp/dedupe/eventbus blocks.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the on-disk YAML shape. Business-facing fields are
// plain strings; only the ambient sub-blocks carry typed knobs.
type Config struct {
	Broker            string `yaml:"broker"`
	BrokerPort        int    `yaml:"broker_port"`
	TopicMeasurements string `yaml:"topic_measurements"`
	TopicCommands     string `yaml:"topic_commands"`
	Room              string `yaml:"room"`
	DescriptorFile    string `yaml:"descriptor_file"`
	SensorName        string `yaml:"sensor_name"`
	SensorModel       string `yaml:"sensor_model"`
	Protocol          string `yaml:"protocol"`

	TCP      TCPConfig      `yaml:"tcp"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	EventBus EventBusConfig `yaml:"eventbus"`
}

// TCPConfig is the ingest listener's ambient surface.
type TCPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BufferSize  int    `yaml:"buffer_size"`
	Backlog     int    `yaml:"backlog"`
	ReadTimeout int    `yaml:"read_timeout"` // seconds
}

// DedupeConfig toggles the in-memory repeat detector.
type DedupeConfig struct {
	Enabled bool `yaml:"enabled"`
	TTL     int  `yaml:"ttl"` // seconds
}

// EventBusConfig toggles the diagnostic ZeroMQ PUB socket.
type EventBusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// defaults holds the values applied by ApplyDefaults. Business-facing
// fields are never defaulted; an empty one is a configuration error.
var defaults = Config{
	BrokerPort: 1883,
	TCP: TCPConfig{
		Host:        "0.0.0.0",
		Port:        7000,
		BufferSize:  1024,
		Backlog:     5,
		ReadTimeout: 30,
	},
	Dedupe: DedupeConfig{
		Enabled: true,
		TTL:     60,
	},
	EventBus: EventBusConfig{
		Enabled: false,
		Address: "tcp://127.0.0.1:5556",
	},
}

// UnmarshalYAML seeds dedupe.enabled with its true default before the
// decoder runs, so an omitted key keeps the default while an explicit
// "enabled: false" still overrides it.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	p := plain{Dedupe: DedupeConfig{Enabled: true}}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Load reads and parses the YAML file at path, then applies ApplyDefaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in every zero-valued ambient field from defaults.
// Business fields (broker, room, descriptor_file, ...) are never
// defaulted: an empty one is a configuration error, caught by Validate.
//
// dedupe.enabled is handled by UnmarshalYAML, not here: its default is
// true, and a bare bool can't tell "absent from YAML" apart from
// "explicitly set to false" once ApplyDefaults sees it.
func (c *Config) ApplyDefaults() {
	if c.BrokerPort == 0 {
		c.BrokerPort = defaults.BrokerPort
	}
	if c.TCP.Host == "" {
		c.TCP.Host = defaults.TCP.Host
	}
	if c.TCP.Port == 0 {
		c.TCP.Port = defaults.TCP.Port
	}
	if c.TCP.BufferSize == 0 {
		c.TCP.BufferSize = defaults.TCP.BufferSize
	}
	if c.TCP.Backlog == 0 {
		c.TCP.Backlog = defaults.TCP.Backlog
	}
	if c.TCP.ReadTimeout == 0 {
		c.TCP.ReadTimeout = defaults.TCP.ReadTimeout
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = defaults.Dedupe.TTL
	}
	if c.EventBus.Address == "" {
		c.EventBus.Address = defaults.EventBus.Address
	}
}

// ReadTimeoutDuration is a convenience accessor for the ingest server.
func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.TCP.ReadTimeout) * time.Second
}

// DedupeTTLDuration is a convenience accessor for internal/dedupe.
func (c *Config) DedupeTTLDuration() time.Duration {
	return time.Duration(c.Dedupe.TTL) * time.Second
}

// Validate rejects a Config missing any field the pipeline cannot run
// without. Called by Load; exported so cmd/ can re-validate after
// applying flag overrides.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("config: broker is required")
	}
	if c.TopicMeasurements == "" {
		return fmt.Errorf("config: topic_measurements is required")
	}
	if c.DescriptorFile == "" {
		return fmt.Errorf("config: descriptor_file is required")
	}
	return nil
}

// Package config loads and validates a roughtimed YAML configuration
// file: listen address, long-term key seed, batching parameters and
// the ambient logging/metrics knobs.
//
// Shape and defaulting/validation split is adapted from slowdrip-
// miner's internal/config.Load (read file, unmarshal, expand
// defaults, validate).
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as a Go duration
// string ("500ms", "2s") in YAML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g. \"2s\"): %w", err)
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

// Config is the roughtimed server configuration.
// min_request_size/flush_interval/radius_micros/log_level/
// metrics_addr/mint/maxt are all optional.
type Config struct {
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
	Seed      string `yaml:"seed"` // hex-encoded, 32 bytes

	BatchSize     int   `yaml:"batch_size"`
	SecondsOffset int64 `yaml:"secondsoffset"`

	MinRequestSize int      `yaml:"min_request_size"`
	FlushInterval  Duration `yaml:"flush_interval"`
	RadiusMicros   uint32   `yaml:"radius_micros"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	MinT string `yaml:"mint"` // RFC3339, unset = spec default (epoch)
	MaxT string `yaml:"maxt"` // RFC3339, unset = spec default (2^63-1 us)
}

// Load reads path, parses it as YAML, applies defaults and validates
// the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Interface == "" {
		c.Interface = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 2002
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.RadiusMicros == 0 {
		c.RadiusMicros = 1_000_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *Config) error {
	if c.Seed == "" {
		return errors.New("config: seed is required")
	}
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return fmt.Errorf("config: seed must be hex: %w", err)
	}
	if len(seed) != 32 {
		return fmt.Errorf("config: seed must decode to 32 bytes, got %d", len(seed))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MinRequestSize < 0 {
		return fmt.Errorf("config: min_request_size must not be negative, got %d", c.MinRequestSize)
	}
	if c.MinT != "" {
		if _, err := time.Parse(time.RFC3339, c.MinT); err != nil {
			return fmt.Errorf("config: mint must be RFC3339: %w", err)
		}
	}
	if c.MaxT != "" {
		if _, err := time.Parse(time.RFC3339, c.MaxT); err != nil {
			return fmt.Errorf("config: maxt must be RFC3339: %w", err)
		}
	}
	return nil
}

// SeedBytes decodes the configured hex seed into the 32-byte array
// internal/keys.New expects. Load already validated its length.
func (c *Config) SeedBytes() [32]byte {
	var seed [32]byte
	b, _ := hex.DecodeString(c.Seed)
	copy(seed[:], b)
	return seed
}

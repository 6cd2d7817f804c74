package agentstream

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/tracker.yaml
var defaultConfigYAML []byte

// Config holds the tunables of a tracking session.
//
// The embedded config/tracker.yaml provides defaults. Callers can override them by:
//  1. Calling LoadConfigFromFile() with custom YAML
//  2. Building a Config in code and passing it to NewSession via WithConfig
type Config struct {
	Version    string           `yaml:"version"`
	Caption    CaptionConfig    `yaml:"caption"`
	Completion CompletionConfig `yaml:"completion"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
}

// CaptionConfig bounds caption extraction
type CaptionConfig struct {
	MaxLength           int `yaml:"max_length"`
	MaxInputBytes       int `yaml:"max_input_bytes"`
	MinMeaningfulLength int `yaml:"min_meaningful_length"`
}

// CompletionConfig controls how final messages are recognized
type CompletionConfig struct {
	LegacyResultPrefix string `yaml:"legacy_result_prefix"`
}

// BroadcastConfig controls snapshot fan-out to subscribers
type BroadcastConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DefaultConfig returns the embedded default configuration.
// It panics only if the embedded YAML is broken, which is a build defect.
func DefaultConfig() *Config {
	cfg, err := ParseConfig(defaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("agentstream: embedded config: %v", err))
	}
	return cfg
}

// ParseConfig parses YAML on top of the embedded defaults and validates the result.
// Fields missing from data keep the embedded defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if len(defaultConfigYAML) > 0 {
		if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
		}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFromFile loads a tracker configuration from a YAML file.
// The file format matches config/tracker.yaml; omitted fields keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks that every tunable is usable.
func (c *Config) Validate() error {
	if c.Caption.MaxLength <= 0 {
		return &ConfigError{
			Field:  "caption.max_length",
			Value:  c.Caption.MaxLength,
			Reason: "must be positive",
			Err:    ErrInvalidConfig,
		}
	}
	if c.Caption.MaxInputBytes < c.Caption.MaxLength {
		return &ConfigError{
			Field:  "caption.max_input_bytes",
			Value:  c.Caption.MaxInputBytes,
			Reason: "must be at least caption.max_length",
			Err:    ErrInvalidConfig,
		}
	}
	if c.Caption.MinMeaningfulLength < 0 {
		return &ConfigError{
			Field:  "caption.min_meaningful_length",
			Value:  c.Caption.MinMeaningfulLength,
			Reason: "must not be negative",
			Err:    ErrInvalidConfig,
		}
	}
	if c.Broadcast.SubscriberBuffer < 0 {
		return &ConfigError{
			Field:  "broadcast.subscriber_buffer",
			Value:  c.Broadcast.SubscriberBuffer,
			Reason: "must not be negative",
			Err:    ErrInvalidConfig,
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a sluice.yaml configuration file.
// All values are optional and act as defaults for sluice flags.
// CLI flags always override config values.
type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Stream   StreamConfig   `yaml:"stream"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Capture  CaptureConfig  `yaml:"capture"`
}

// UpstreamConfig locates the agent backend.
type UpstreamConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// StreamConfig holds per-stream delivery and ingestion defaults.
type StreamConfig struct {
	Policy         string   `yaml:"policy"`
	QueueSize      int      `yaml:"queue_size"`
	StallTimeout   Duration `yaml:"stall_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	MaxBufferBytes int      `yaml:"max_buffer_bytes"`
	Progressive    bool     `yaml:"progressive"`
}

// RecoveryConfig holds the record shape used by structured-data recovery.
// Empty lists select the built-in defaults.
type RecoveryConfig struct {
	ArrayKeys     []string `yaml:"array_keys,omitempty"`
	IdentityKeys  []string `yaml:"identity_keys,omitempty"`
	MaxInputBytes int      `yaml:"max_input_bytes,omitempty"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type         string            `yaml:"type"`
	URL          string            `yaml:"url"`
	Channel      string            `yaml:"channel,omitempty"`
	Stream       string            `yaml:"stream,omitempty"`
	StreamMaxLen int64             `yaml:"stream_max_len,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Timeout      Duration          `yaml:"timeout,omitempty"`
	Retries      *int              `yaml:"retries,omitempty"`
}

// CaptureConfig enables raw upstream recording.
type CaptureConfig struct {
	Dir string `yaml:"dir"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated values. Missing values are fine; flags and
// defaults fill them in.
func (c *Config) Validate() error {
	var errs []error
	switch c.Stream.Policy {
	case "", "strict", "buffered":
	default:
		errs = append(errs, fmt.Errorf("stream.policy: %q is not strict or buffered", c.Stream.Policy))
	}
	if c.Stream.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("stream.queue_size: must be >= 0, got %d", c.Stream.QueueSize))
	}
	if c.Stream.MaxBufferBytes < 0 {
		errs = append(errs, fmt.Errorf("stream.max_buffer_bytes: must be >= 0, got %d", c.Stream.MaxBufferBytes))
	}
	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url: required for %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: %q is not webhook or redis", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries: must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
